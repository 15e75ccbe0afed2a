package config

import (
	"fmt"
	"net/url"
	"path"
	"time"
)

const (
	// BlobTypeFilesystem stores artifacts on local disk
	BlobTypeFilesystem = "filesystem"
	// BlobTypeS3 stores artifacts in an S3 compatible bucket
	BlobTypeS3 = "s3"
	// BlobTypeGCS stores artifacts in Google Cloud Storage
	BlobTypeGCS = "gcs"

	// EventsTypeNone disables lifecycle events
	EventsTypeNone = "none"
	// EventsTypeNATS publishes to NATS JetStream
	EventsTypeNATS = "nats"
	// EventsTypeRedis publishes to Redis pub/sub
	EventsTypeRedis = "redis"
)

const (
	defaultArtifactPath      = "./data/artifacts"
	defaultCatalogStatusPath = "./data/catalog"
	defaultProviderTimeout   = 30 * time.Second
	defaultTokenTTL          = 24 * time.Hour
	defaultGracePeriod       = 30 * time.Second
	defaultPollInterval      = 15 * time.Second
	defaultBatchSize         = 50
	maxBatchSize             = 100
	defaultConcurrency       = 4
	defaultPollTimeout       = 20 * time.Second
	defaultArtifactTimeout   = 60 * time.Second
	defaultMaxArtifactBytes  = 50 << 20
	defaultRefreshTimeout    = 5 * time.Minute
	defaultNATSStream        = "IMAGEGEN"
	defaultSubjectPrefix     = "imagegen"
)

// BlobConfig selects where artifacts are written
type BlobConfig struct {
	Type       string                `yaml:"type,omitempty"`
	Filesystem *FilesystemBlobConfig `yaml:"filesystem,omitempty"`
	S3         *S3BlobConfig         `yaml:"s3,omitempty"`
	GCS        *GCSBlobConfig        `yaml:"gcs,omitempty"`
}

// FilesystemBlobConfig stores artifacts under Path
type FilesystemBlobConfig struct {
	Path string `yaml:"path,omitempty"`
}

// S3BlobConfig stores artifacts in an S3 bucket
type S3BlobConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region,omitempty"`
	// Endpoint overrides the AWS endpoint for S3 compatible services
	Endpoint            string `yaml:"endpoint,omitempty"`
	AccessKeyID         string `yaml:"accessKeyID,omitempty"`
	SecretAccessKeyFile string `yaml:"secretAccessKeyFile,omitempty"`
	UsePathStyle        bool   `yaml:"usePathStyle,omitempty"`
	Prefix              string `yaml:"prefix,omitempty"`
}

// GCSBlobConfig stores artifacts in a GCS bucket
type GCSBlobConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
}

// GetType returns the blob backend, filesystem when unset
func (b *BlobConfig) GetType() string {
	if b.Type == "" {
		return BlobTypeFilesystem
	}
	return b.Type
}

// GetFilesystemPath returns the artifact directory
func (b *BlobConfig) GetFilesystemPath() string {
	if b.Filesystem == nil || b.Filesystem.Path == "" {
		return defaultArtifactPath
	}
	return b.Filesystem.Path
}

// GetSecretAccessKey reads the S3 secret key, from THV_IMAGEGEN_S3_SECRET_ACCESS_KEY
// when no file is configured. Empty means the default AWS credential chain.
func (s *S3BlobConfig) GetSecretAccessKey() (string, error) {
	return readSecret(s.SecretAccessKeyFile, envName("S3", "SECRET", "ACCESS", "KEY"))
}

func (b *BlobConfig) validate() error {
	switch b.GetType() {
	case BlobTypeFilesystem:
		return nil
	case BlobTypeS3:
		if b.S3 == nil || b.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when type is %s", BlobTypeS3)
		}
		if b.S3.Endpoint != "" {
			return validateURL("s3.endpoint", b.S3.Endpoint)
		}
		return nil
	case BlobTypeGCS:
		if b.GCS == nil || b.GCS.Bucket == "" {
			return fmt.Errorf("gcs.bucket is required when type is %s", BlobTypeGCS)
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %q", b.Type)
	}
}

// ProviderConfig configures one image generation provider
type ProviderConfig struct {
	// Name identifies the provider in routes, records and webhook URLs
	Name string `yaml:"name"`

	// Type is queue or polling
	Type string `yaml:"type"`

	// BaseURL is the provider API root
	BaseURL string `yaml:"baseURL"`

	// APIKeyFile holds the provider credential; THV_IMAGEGEN_<NAME>_API_KEY is used otherwise
	APIKeyFile string `yaml:"apiKeyFile,omitempty"`

	// Endpoints are the path.Match patterns this provider serves
	Endpoints []string `yaml:"endpoints"`

	// Timeout bounds every provider call
	Timeout string `yaml:"timeout,omitempty"`

	// InputSchemas maps an endpoint pattern to a JSON Schema file for its input
	InputSchemas map[string]string `yaml:"inputSchemas,omitempty"`
}

func (p *ProviderConfig) validate() error {
	switch p.Type {
	case ProviderTypeQueue, ProviderTypePolling:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unsupported type %q, must be %s or %s", p.Type, ProviderTypeQueue, ProviderTypePolling)
	}
	if err := validateURL("baseURL", p.BaseURL); err != nil {
		return err
	}
	if len(p.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint pattern is required")
	}
	for _, pattern := range p.Endpoints {
		if err := validatePattern(pattern); err != nil {
			return fmt.Errorf("endpoints: %w", err)
		}
	}
	for pattern, file := range p.InputSchemas {
		if err := validatePattern(pattern); err != nil {
			return fmt.Errorf("inputSchemas: %w", err)
		}
		if file == "" {
			return fmt.Errorf("inputSchemas: schema file for %q is required", pattern)
		}
	}
	return parseDuration("timeout", p.Timeout)
}

// GetTimeout returns the per-call timeout
func (p *ProviderConfig) GetTimeout() time.Duration {
	return durationOr(p.Timeout, defaultProviderTimeout)
}

// GetAPIKey reads the provider credential. Empty means no credential.
func (p *ProviderConfig) GetAPIKey() (string, error) {
	return readSecret(p.APIKeyFile, envName(p.Name, "API", "KEY"))
}

// WebhookConfig enables provider callbacks
type WebhookConfig struct {
	// PublicBaseURL is the externally reachable root of this server. When
	// empty providers are never given a callback and every job is polled.
	PublicBaseURL string `yaml:"publicBaseURL,omitempty"`

	// SigningKeyFile holds the callback token key; THV_IMAGEGEN_WEBHOOK_SIGNING_KEY otherwise
	SigningKeyFile string `yaml:"signingKeyFile,omitempty"`

	// TokenTTL is the lifetime of a callback token
	TokenTTL string `yaml:"tokenTTL,omitempty"`
}

// Enabled reports whether callbacks are configured
func (w *WebhookConfig) Enabled() bool {
	return w != nil && w.PublicBaseURL != ""
}

// GetSigningKey reads the callback signing key
func (w *WebhookConfig) GetSigningKey() ([]byte, error) {
	key, err := readSecret(w.SigningKeyFile, envName("WEBHOOK", "SIGNING", "KEY"))
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("no webhook signing key configured: set signingKeyFile or %s environment variable",
			envName("WEBHOOK", "SIGNING", "KEY"))
	}
	return []byte(key), nil
}

// GetTokenTTL returns the callback token lifetime
func (w *WebhookConfig) GetTokenTTL() time.Duration {
	if w == nil {
		return defaultTokenTTL
	}
	return durationOr(w.TokenTTL, defaultTokenTTL)
}

func (w *WebhookConfig) validate() error {
	if !w.Enabled() {
		return nil
	}
	if err := validateURL("publicBaseURL", w.PublicBaseURL); err != nil {
		return err
	}
	if u, _ := url.Parse(w.PublicBaseURL); u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("publicBaseURL must not carry a query or fragment")
	}
	if _, err := w.GetSigningKey(); err != nil {
		return err
	}
	return parseDuration("tokenTTL", w.TokenTTL)
}

// ReconcilerConfig tunes the poll sweep and artifact download
type ReconcilerConfig struct {
	GracePeriod      string `yaml:"gracePeriod,omitempty"`
	PollInterval     string `yaml:"pollInterval,omitempty"`
	BatchSize        int    `yaml:"batchSize,omitempty"`
	Concurrency      int    `yaml:"concurrency,omitempty"`
	PollTimeout      string `yaml:"pollTimeout,omitempty"`
	ArtifactTimeout  string `yaml:"artifactTimeout,omitempty"`
	MaxArtifactBytes int64  `yaml:"maxArtifactBytes,omitempty"`
}

func (r *ReconcilerConfig) validate() error {
	if r.BatchSize < 0 || r.Concurrency < 0 || r.MaxArtifactBytes < 0 {
		return fmt.Errorf("batchSize, concurrency and maxArtifactBytes must not be negative")
	}
	if r.BatchSize > maxBatchSize {
		return fmt.Errorf("batchSize must be at most %d", maxBatchSize)
	}
	for field, value := range map[string]string{
		"gracePeriod":     r.GracePeriod,
		"pollInterval":    r.PollInterval,
		"pollTimeout":     r.PollTimeout,
		"artifactTimeout": r.ArtifactTimeout,
	} {
		if err := parseDuration(field, value); err != nil {
			return err
		}
	}
	return nil
}

// GetGracePeriod returns how long a pending generation waits for a webhook before being polled
func (r *ReconcilerConfig) GetGracePeriod() time.Duration {
	return durationOr(r.GracePeriod, defaultGracePeriod)
}

// GetPollInterval returns the sweep period
func (r *ReconcilerConfig) GetPollInterval() time.Duration {
	return durationOr(r.PollInterval, defaultPollInterval)
}

// GetBatchSize returns the sweep page size
func (r *ReconcilerConfig) GetBatchSize() int {
	if r.BatchSize == 0 {
		return defaultBatchSize
	}
	return r.BatchSize
}

// GetConcurrency returns how many polls run at once
func (r *ReconcilerConfig) GetConcurrency() int {
	if r.Concurrency == 0 {
		return defaultConcurrency
	}
	return r.Concurrency
}

// GetPollTimeout bounds one provider poll
func (r *ReconcilerConfig) GetPollTimeout() time.Duration {
	return durationOr(r.PollTimeout, defaultPollTimeout)
}

// GetArtifactTimeout bounds one artifact download
func (r *ReconcilerConfig) GetArtifactTimeout() time.Duration {
	return durationOr(r.ArtifactTimeout, defaultArtifactTimeout)
}

// GetMaxArtifactBytes caps the artifact size
func (r *ReconcilerConfig) GetMaxArtifactBytes() int64 {
	if r.MaxArtifactBytes == 0 {
		return defaultMaxArtifactBytes
	}
	return r.MaxArtifactBytes
}

// CatalogConfig configures catalog sync
type CatalogConfig struct {
	// StatusPath holds sync statuses when storage.type is memory
	StatusPath string `yaml:"statusPath,omitempty"`

	// RefreshTimeout bounds one refresh job
	RefreshTimeout string `yaml:"refreshTimeout,omitempty"`

	// StandardEndpoints are the patterns of the standard scope
	StandardEndpoints []string `yaml:"standardEndpoints,omitempty"`
}

func (c *CatalogConfig) validate() error {
	for _, pattern := range c.StandardEndpoints {
		if err := validatePattern(pattern); err != nil {
			return fmt.Errorf("standardEndpoints: %w", err)
		}
	}
	return parseDuration("refreshTimeout", c.RefreshTimeout)
}

// GetStatusPath returns the sync status directory
func (c *CatalogConfig) GetStatusPath() string {
	if c.StatusPath == "" {
		return defaultCatalogStatusPath
	}
	return c.StatusPath
}

// GetRefreshTimeout returns the refresh job bound
func (c *CatalogConfig) GetRefreshTimeout() time.Duration {
	return durationOr(c.RefreshTimeout, defaultRefreshTimeout)
}

// EventsConfig selects the lifecycle event broker
type EventsConfig struct {
	Type  string             `yaml:"type,omitempty"`
	NATS  *NATSEventsConfig  `yaml:"nats,omitempty"`
	Redis *RedisEventsConfig `yaml:"redis,omitempty"`
}

// NATSEventsConfig publishes to a JetStream stream
type NATSEventsConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream,omitempty"`
	SubjectPrefix string `yaml:"subjectPrefix,omitempty"`
}

// RedisEventsConfig publishes to Redis channels
type RedisEventsConfig struct {
	Addr          string `yaml:"addr"`
	PasswordFile  string `yaml:"passwordFile,omitempty"`
	DB            int    `yaml:"db,omitempty"`
	ChannelPrefix string `yaml:"channelPrefix,omitempty"`
}

// GetType returns the broker type, none when unset
func (e *EventsConfig) GetType() string {
	if e.Type == "" {
		return EventsTypeNone
	}
	return e.Type
}

// GetStream returns the JetStream stream name
func (n *NATSEventsConfig) GetStream() string {
	if n.Stream == "" {
		return defaultNATSStream
	}
	return n.Stream
}

// GetSubjectPrefix returns the subject prefix
func (n *NATSEventsConfig) GetSubjectPrefix() string {
	if n.SubjectPrefix == "" {
		return defaultSubjectPrefix
	}
	return n.SubjectPrefix
}

// GetChannelPrefix returns the channel prefix
func (r *RedisEventsConfig) GetChannelPrefix() string {
	if r.ChannelPrefix == "" {
		return defaultSubjectPrefix
	}
	return r.ChannelPrefix
}

// GetPassword reads the Redis password, from THV_IMAGEGEN_REDIS_PASSWORD when
// no file is configured. Empty means no authentication.
func (r *RedisEventsConfig) GetPassword() (string, error) {
	return readSecret(r.PasswordFile, envName("REDIS", "PASSWORD"))
}

func (e *EventsConfig) validate() error {
	switch e.GetType() {
	case EventsTypeNone:
		return nil
	case EventsTypeNATS:
		if e.NATS == nil || e.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when type is %s", EventsTypeNATS)
		}
		return nil
	case EventsTypeRedis:
		if e.Redis == nil || e.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when type is %s", EventsTypeRedis)
		}
		if e.Redis.DB < 0 {
			return fmt.Errorf("redis.db must not be negative")
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %q", e.Type)
	}
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return nil
}
