package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/spam-rectifier/app/storage"
	"github.com/umputun/spam-rectifier/app/webapi"
	"github.com/umputun/spam-rectifier/lib/monitor"
	"github.com/umputun/spam-rectifier/lib/rectifier"
	"github.com/umputun/spam-rectifier/lib/report"
)

type options struct {
	Model string `long:"model" env:"MODEL" default:"spam-model.json" description:"model snapshot location"`
	DB    string `long:"db" env:"DB" default:"spam-rectifier.db" description:"samples database, sqlite file or postgres url"`
	Dbg   bool   `long:"dbg" env:"DEBUG" description:"debug mode"`

	TrainCmd    trainCommand    `command:"train" description:"train a model from csv data or the samples db"`
	EvaluateCmd evaluateCommand `command:"evaluate" description:"evaluate a saved model on labeled data"`
	PredictCmd  predictCommand  `command:"predict" description:"classify a single text"`
	ExplainCmd  explainCommand  `command:"explain" description:"explain a prediction"`
	DriftCmd    driftCommand    `command:"drift" description:"drift report for new data"`
	ImportCmd   importCommand   `command:"import" description:"import csv samples into the db"`
	ServerCmd   serverCommand   `command:"server" description:"run the inference web api"`
}

type trainCommand struct {
	Data           string `long:"data" env:"DATA" description:"path to csv with text,label columns"`
	FromDB         bool   `long:"from-db" env:"FROM_DB" description:"train from the samples db instead of csv"`
	NoBigrams      bool   `long:"no-bigrams" env:"NO_BIGRAMS" description:"disable bigram features"`
	MinTokenLength int    `long:"min-token-length" env:"MIN_TOKEN_LENGTH" default:"2" description:"minimum token length"`
	NoEmailRedact  bool   `long:"no-email-redact" env:"NO_EMAIL_REDACT" description:"disable email redaction"`
	NoURLRedact    bool   `long:"no-url-redact" env:"NO_URL_REDACT" description:"disable url redaction"`
	RedactNumbers  bool   `long:"redact-numbers" env:"REDACT_NUMBERS" description:"replace multi-digit numbers with a placeholder"`
	ModelCard      string `long:"model-card" env:"MODEL_CARD" description:"optional path to write a model card markdown file"`
	PositiveLabel  string `long:"positive-label" env:"POSITIVE_LABEL" default:"spam" description:"label treated as positive in the model card"`
}

type evaluateCommand struct {
	Data          string `long:"data" env:"DATA" required:"true" description:"path to csv with text,label columns"`
	PositiveLabel string `long:"positive-label" env:"POSITIVE_LABEL" default:"spam" description:"label treated as positive"`
}

type predictCommand struct {
	Text string `long:"text" env:"TEXT" required:"true" description:"text to classify"`
}

type explainCommand struct {
	Text string `long:"text" env:"TEXT" required:"true" description:"text to explain"`
	TopN int    `long:"top-n" env:"TOP_N" default:"8" description:"number of tokens to highlight"`
}

type driftCommand struct {
	Data string `long:"data" env:"DATA" required:"true" description:"path to csv with text column"`
	TopN int    `long:"top-n" env:"TOP_N" default:"10" description:"number of shifted tokens to show"`
}

type importCommand struct {
	Data string `long:"data" env:"DATA" required:"true" description:"path to csv with text,label columns"`
}

type serverCommand struct {
	Listen     string        `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
	AuthPasswd string        `long:"auth-passwd" env:"AUTH_PASSWD" description:"basic auth password, disabled if empty"`
	NoWatch    bool          `long:"no-watch" env:"NO_WATCH" description:"disable model hot reload on snapshot change"`
	CacheTTL   time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"15m" description:"prediction cache ttl, 0 to disable"`
	CacheKeys  int           `long:"cache-keys" env:"CACHE_KEYS" default:"1000" description:"prediction cache max keys"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated prediction log"`
		FileName   string `long:"file" env:"FILE" default:"predictions.log" description:"location of the prediction log"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"maximum log size in megabytes before rotation"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of rotated log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`
}

var revision = "local"

func main() {
	fmt.Printf("spam-rectifier %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.ServerCmd.AuthPasswd)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, p.Active.Name, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, command string, opts options) error {
	switch command {
	case "train":
		return executeTrain(ctx, opts)
	case "evaluate":
		return executeEvaluate(opts)
	case "predict":
		return executePredict(opts)
	case "explain":
		return executeExplain(opts)
	case "drift":
		return executeDrift(opts)
	case "import":
		return executeImport(ctx, opts)
	case "server":
		return executeServer(ctx, opts)
	}
	return fmt.Errorf("unknown command %q", command)
}

func executeTrain(ctx context.Context, opts options) error {
	cmd := opts.TrainCmd
	config := rectifier.FeatureConfig{
		UseBigrams:     !cmd.NoBigrams,
		MinTokenLength: cmd.MinTokenLength,
		RedactEmails:   !cmd.NoEmailRedact,
		RedactURLs:     !cmd.NoURLRedact,
		RedactNumbers:  cmd.RedactNumbers,
	}

	dataset, err := trainingData(ctx, opts)
	if err != nil {
		return err
	}
	log.Printf("[INFO] training on %d documents", len(dataset.texts))

	model, err := rectifier.Train(dataset.texts, dataset.labels, config)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if err = model.Save(opts.Model); err != nil {
		return fmt.Errorf("can't save model: %w", err)
	}
	log.Printf("[INFO] model saved to %s, labels: %v", opts.Model, model.Labels())

	if cmd.ModelCard != "" {
		if err = writeModelCard(model, dataset, cmd); err != nil {
			return err
		}
		log.Printf("[INFO] model card written to %s", cmd.ModelCard)
	}
	return nil
}

// trainingData loads the training dataset either from the samples db or from
// a csv file, depending on the train command flags.
func trainingData(ctx context.Context, opts options) (labeledDataset, error) {
	if opts.TrainCmd.FromDB {
		samples, teardown, err := makeSamplesStore(ctx, opts.DB)
		if err != nil {
			return labeledDataset{}, err
		}
		defer teardown()
		texts, labels, err := samples.Read(ctx)
		if err != nil {
			return labeledDataset{}, err
		}
		return labeledDataset{texts: texts, labels: labels}, nil
	}
	if opts.TrainCmd.Data == "" {
		return labeledDataset{}, fmt.Errorf("either --data or --from-db is required")
	}
	return loadCSV(opts.TrainCmd.Data)
}

func writeModelCard(model *rectifier.Model, dataset labeledDataset, cmd trainCommand) error {
	predictions := make([]string, 0, len(dataset.texts))
	for _, text := range dataset.texts {
		pred, err := model.Predict(text)
		if err != nil {
			return fmt.Errorf("can't predict for model card: %w", err)
		}
		predictions = append(predictions, pred)
	}
	metrics, err := report.Evaluate(dataset.labels, predictions, cmd.PositiveLabel)
	if err != nil {
		return fmt.Errorf("can't evaluate for model card: %w", err)
	}

	topTokens := map[string][]rectifier.TokenScore{}
	for _, label := range model.Labels() {
		tokens, terr := model.TopTokens(label, 12)
		if terr != nil {
			return fmt.Errorf("can't get top tokens: %w", terr)
		}
		topTokens[label] = tokens
	}

	card, err := report.ModelCard(report.CardInfo{
		Name:          "spam-rectifier",
		Version:       revision,
		Labels:        model.Labels(),
		Metrics:       metrics,
		DatasetSize:   model.DatasetSize,
		TrainedAt:     model.TrainedAt,
		PositiveLabel: cmd.PositiveLabel,
		TopTokens:     topTokens,
	})
	if err != nil {
		return err
	}
	if err = os.WriteFile(cmd.ModelCard, []byte(card), 0o644); err != nil { //nolint:gosec // keep it readable by all
		return fmt.Errorf("can't write model card: %w", err)
	}
	return nil
}

func executeEvaluate(opts options) error {
	dataset, err := loadCSV(opts.EvaluateCmd.Data)
	if err != nil {
		return err
	}
	model, err := rectifier.Load(opts.Model)
	if err != nil {
		return err
	}

	predictions := make([]string, 0, len(dataset.texts))
	for _, text := range dataset.texts {
		pred, perr := model.Predict(text)
		if perr != nil {
			return fmt.Errorf("prediction failed: %w", perr)
		}
		predictions = append(predictions, pred)
	}
	metrics, err := report.Evaluate(dataset.labels, predictions, opts.EvaluateCmd.PositiveLabel)
	if err != nil {
		return err
	}
	return printJSON(metrics)
}

func executePredict(opts options) error {
	model, err := rectifier.Load(opts.Model)
	if err != nil {
		return err
	}
	prediction, err := model.Predict(opts.PredictCmd.Text)
	if err != nil {
		return err
	}
	probs, err := model.PredictProba(opts.PredictCmd.Text)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"prediction": prediction, "probabilities": probs})
}

func executeExplain(opts options) error {
	model, err := rectifier.Load(opts.Model)
	if err != nil {
		return err
	}
	res, err := model.Explain(opts.ExplainCmd.Text, opts.ExplainCmd.TopN)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func executeDrift(opts options) error {
	dataset, err := loadCSV(opts.DriftCmd.Data)
	if err != nil {
		return err
	}
	model, err := rectifier.Load(opts.Model)
	if err != nil {
		return err
	}
	return printJSON(monitor.DriftReport(model, dataset.texts, opts.DriftCmd.TopN))
}

func executeImport(ctx context.Context, opts options) error {
	dataset, err := loadCSV(opts.ImportCmd.Data)
	if err != nil {
		return err
	}
	samples, teardown, err := makeSamplesStore(ctx, opts.DB)
	if err != nil {
		return err
	}
	defer teardown()

	added, err := samples.Import(ctx, dataset.texts, dataset.labels)
	if err != nil {
		log.Printf("[WARN] import finished with errors: %v", err)
	}
	stats, serr := samples.Stats(ctx)
	if serr != nil {
		return serr
	}
	log.Printf("[INFO] imported %d samples, totals: %v", added, stats)
	return nil
}

func executeServer(ctx context.Context, opts options) error {
	cmd := opts.ServerCmd
	loader, err := webapi.NewLoader(opts.Model)
	if err != nil {
		return fmt.Errorf("can't load model: %w", err)
	}

	if !cmd.NoWatch {
		go func() {
			if werr := loader.Watch(ctx); werr != nil {
				log.Printf("[WARN] model watcher failed: %v", werr)
			}
		}()
	}

	logWriter, err := makePredictionLogWriter(cmd)
	if err != nil {
		return fmt.Errorf("can't make prediction log writer: %w", err)
	}
	defer logWriter.Close()

	srv := webapi.NewServer(webapi.Config{
		Version:    revision,
		ListenAddr: cmd.Listen,
		Model:      loader,
		Logger:     makePredictionLogger(logWriter),
		AuthPasswd: cmd.AuthPasswd,
		CacheTTL:   cmd.CacheTTL,
		CacheKeys:  cmd.CacheKeys,
		Dbg:        opts.Dbg,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("webapi server failed: %w", err)
	}
	return nil
}

// makeSamplesStore connects to the samples db with a few retries, useful for
// remote postgres starting up alongside the app.
func makeSamplesStore(ctx context.Context, conn string) (res *storage.Samples, teardown func(), err error) {
	var db *storage.SQL
	err = repeater.NewDefault(3, time.Second).Do(ctx, func() error {
		var e error
		db, e = storage.New(ctx, conn)
		return e
	})
	if err != nil {
		return nil, nil, fmt.Errorf("can't connect to samples db %s: %w", conn, err)
	}

	res, err = storage.NewSamples(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	teardown = func() {
		if cerr := db.Close(); cerr != nil {
			log.Printf("[WARN] failed to close samples db: %v", cerr)
		}
	}
	return res, teardown, nil
}

// makePredictionLogger creates a logger writing served predictions as json
// lines to the provided writer.
func makePredictionLogger(wr io.Writer) webapi.PredictionLogger {
	return webapi.PredictionLoggerFunc(func(text, prediction string, probabilities map[string]float64) {
		line := struct {
			TimeStamp     string             `json:"ts"`
			Text          string             `json:"text"`
			Prediction    string             `json:"prediction"`
			Probabilities map[string]float64 `json:"probabilities"`
		}{
			TimeStamp:     time.Now().In(time.Local).Format(time.RFC3339),
			Text:          strings.TrimSpace(strings.ReplaceAll(text, "\n", " ")),
			Prediction:    prediction,
			Probabilities: probabilities,
		}
		data, err := json.Marshal(&line)
		if err != nil {
			log.Printf("[WARN] can't marshal prediction log entry: %v", err)
			return
		}
		if _, err := wr.Write(append(data, '\n')); err != nil {
			log.Printf("[WARN] can't write prediction log: %v", err)
		}
	})
}

// makePredictionLogWriter creates a rotated log writer for served predictions,
// or a discarding one when the log is disabled.
func makePredictionLogWriter(cmd serverCommand) (io.WriteCloser, error) {
	if !cmd.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}
	log.Printf("[INFO] prediction logger enabled for %s, max size %dM", cmd.Logger.FileName, cmd.Logger.MaxSize)
	return &lumberjack.Logger{
		Filename:   cmd.Logger.FileName,
		MaxSize:    cmd.Logger.MaxSize, // in MB
		MaxBackups: cmd.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("can't marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	var nonEmpty []string
	for _, s := range secrets {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) > 0 {
		logOpts = append(logOpts, lgr.Secret(nonEmpty...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
