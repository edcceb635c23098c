package config

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bedrock-data/conveyor/lib/config/constants"
)

const (
	defaultRetryMax         = 3
	defaultRetryWaitSeconds = 4
	defaultRetryMult        = 2.0
	defaultRedshiftPort     = 5439

	// Each failed load attempt removes exactly one rejected row, so this
	// bounds how many bad rows a single staged file may shed before we
	// give up on it.
	defaultUploadRetries = 10
)

type Sentry struct {
	DSN string `yaml:"dsn"`
}

type Redshift struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// Staged uploads land under s3://<bucket>/<s3Prefix>/ before COPY.
	Bucket   string `yaml:"bucket"`
	S3Prefix string `yaml:"s3Prefix"`
	IAMRole  string `yaml:"iamRole"`
	Region   string `yaml:"region"`

	UploadRetries int `yaml:"uploadRetries,omitempty"`
}

func (r Redshift) DSN() string {
	port := r.Port
	if port == 0 {
		port = defaultRedshiftPort
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(r.Username, r.Password),
		Host:   fmt.Sprintf("%s:%d", r.Host, port),
		Path:   r.Database,
	}
	return u.String()
}

func (r Redshift) String() string {
	// Don't log credentials.
	return fmt.Sprintf("host=%s, db=%s, bucket=%s, user_set=%v, pass_set=%v",
		r.Host, r.Database, r.Bucket, r.Username != "", r.Password != "")
}

// Ledger is the bookkeeping database that holds the job_runs table. It can
// point at the warehouse itself or at a separate Postgres.
type Ledger struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema,omitempty"`
}

type Queue struct {
	Kind constants.QueueKind `yaml:"kind"`

	// FilePath backs the file queue, SQSQueueURL backs the SQS queue.
	FilePath    string `yaml:"filePath,omitempty"`
	SQSQueueURL string `yaml:"sqsQueueURL,omitempty"`
}

type Slack struct {
	WebhookURL string `yaml:"webhookURL"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username,omitempty"`
}

type Worker struct {
	RetryMax         int     `yaml:"retryMax,omitempty"`
	RetryWaitSeconds int     `yaml:"retryWaitSeconds,omitempty"`
	RetryMult        float64 `yaml:"retryMult,omitempty"`
}

type Schedule struct {
	JobID  string         `yaml:"jobID"`
	Hour   int            `yaml:"hour"`
	Minute int            `yaml:"minute"`
	Batch  map[string]any `yaml:"batch,omitempty"`
}

type Config struct {
	Redshift *Redshift `yaml:"redshift"`
	Ledger   *Ledger   `yaml:"ledger"`
	Queue    Queue     `yaml:"queue"`
	Slack    *Slack    `yaml:"slack"`
	Worker   Worker    `yaml:"worker"`

	Schedules []Schedule `yaml:"schedules,omitempty"`

	Reporting struct {
		Sentry *Sentry `yaml:"sentry"`
	} `yaml:"reporting"`

	Telemetry struct {
		Metrics struct {
			Provider constants.ExporterKind `yaml:"provider"`
			Settings map[string]interface{} `yaml:"settings,omitempty"`
		} `yaml:"metrics"`
	} `yaml:"telemetry"`
}

func readFileToConfig(pathToConfig string) (*Config, error) {
	file, err := os.Open(pathToConfig)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	var config Config
	if err = yaml.Unmarshal(bytes, &config); err != nil {
		return nil, err
	}

	if config.Queue.Kind == "" {
		config.Queue.Kind = constants.FileQueue
	}

	if config.Worker.RetryMax == 0 {
		config.Worker.RetryMax = defaultRetryMax
	}

	if config.Worker.RetryWaitSeconds == 0 {
		config.Worker.RetryWaitSeconds = defaultRetryWaitSeconds
	}

	if config.Worker.RetryMult == 0 {
		config.Worker.RetryMult = defaultRetryMult
	}

	if config.Redshift != nil && config.Redshift.UploadRetries == 0 {
		config.Redshift.UploadRetries = defaultUploadRetries
	}

	return &config, nil
}

// Validate checks the warehouse, ledger and queue settings. Job definitions
// are registered in code and checked separately when the worker boots.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if c.Redshift == nil {
		return fmt.Errorf("config is invalid, redshift settings are required")
	}

	if c.Redshift.Host == "" || c.Redshift.Database == "" || c.Redshift.Username == "" {
		return fmt.Errorf("config is invalid, redshift settings are incomplete: %s", c.Redshift.String())
	}

	if c.Redshift.Bucket == "" || c.Redshift.IAMRole == "" {
		return fmt.Errorf("config is invalid, redshift staging needs a bucket and an IAM role: %s", c.Redshift.String())
	}

	if c.Ledger == nil || c.Ledger.DSN == "" {
		return fmt.Errorf("config is invalid, ledger dsn is required")
	}

	if !constants.IsValidQueue(c.Queue.Kind) {
		return fmt.Errorf("config is invalid, queue kind: %s is invalid", c.Queue.Kind)
	}

	if c.Queue.Kind == constants.FileQueue && c.Queue.FilePath == "" {
		return fmt.Errorf("config is invalid, file queue needs a filePath")
	}

	if c.Queue.Kind == constants.SQSQueue && c.Queue.SQSQueueURL == "" {
		return fmt.Errorf("config is invalid, sqs queue needs a queue URL")
	}

	if c.Worker.RetryMax < 0 || c.Worker.RetryWaitSeconds < 0 || c.Worker.RetryMult < 1 {
		return fmt.Errorf("config is invalid, worker retry settings are out of range: max=%d, wait=%d, mult=%v",
			c.Worker.RetryMax, c.Worker.RetryWaitSeconds, c.Worker.RetryMult)
	}

	for _, schedule := range c.Schedules {
		if schedule.JobID == "" {
			return fmt.Errorf("config is invalid, schedule is missing a jobID")
		}
		if schedule.Hour < 0 || schedule.Hour > 23 || schedule.Minute < 0 || schedule.Minute > 59 {
			return fmt.Errorf("config is invalid, schedule %q has an out-of-range time: %02d:%02d",
				schedule.JobID, schedule.Hour, schedule.Minute)
		}
	}

	return nil
}
