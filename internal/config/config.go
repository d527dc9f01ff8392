package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "ORDERPULSE"

	URL_APP_NAME                   = "URL_App_Name"
	URL_PATH_PREFIX                = "URL_Path_Prefix"
	HTTP_SHUTDOWN_TIMEOUT          = "HTTP_Shutdown_Timeout"
	SERVICE_TO_SERVICE_CREDENTIALS = "Service_To_Service_Credentials"
	PROFILE                        = "Enable_Profile"
	DEVELOPMENT_MODE               = "Development_Mode"

	AUTH_TIMEOUT               = "Auth_Timeout"
	READ_IDLE_TIMEOUT          = "Read_Idle_Timeout"
	MAX_FRAME_SIZE             = "Max_Frame_Size"
	MAX_CONNECTIONS_PER_TENANT = "Max_Connections_Per_Tenant"
	MAX_CONNECTIONS_PER_USER   = "Max_Connections_Per_User"
	JWT_SECRET                 = "Jwt_Secret"

	HEARTBEAT_INTERVAL     = "Heartbeat_Interval"
	MAX_MISSED_PONGS       = "Max_Missed_Pongs"
	RATE_LIMITER_GC_CYCLES = "Rate_Limiter_Gc_Cycles"

	RATE_LIMIT_STORE_IMPL          = "Rate_Limit_Store_Impl"
	CONNECTION_ATTEMPTS_PER_MINUTE = "Connection_Attempts_Per_Minute"
	MESSAGES_PER_MINUTE            = "Messages_Per_Minute"
	MESSAGE_SIZE_ACCOUNTING_LIMIT  = "Message_Size_Accounting_Limit"
	RECONNECT_WINDOW               = "Reconnect_Window"
	RECONNECT_ATTEMPT_LIMIT        = "Reconnect_Attempt_Limit"
	VIOLATION_BAN_THRESHOLD        = "Violation_Ban_Threshold"
	BASE_BACKOFF                   = "Base_Backoff"
	MAX_BACKOFF                    = "Max_Backoff"
	BASE_BAN_DURATION              = "Base_Ban_Duration"
	MAX_BAN_DURATION               = "Max_Ban_Duration"

	REDIS_HOST     = "Redis_Host"
	REDIS_PORT     = "Redis_Port"
	REDIS_PASSWORD = "Redis_Password"

	OFFLINE_QUEUE_PER_USER_LIMIT = "Offline_Queue_Per_User_Limit"
	OFFLINE_QUEUE_USER_LIMIT     = "Offline_Queue_User_Limit"

	SYNC_DEFAULT_LOOKBACK = "Sync_Default_Lookback"
	SYNC_MAX_BATCH_SIZE   = "Sync_Max_Batch_Size"

	DATABASE_HOST          = "Database_Host"
	DATABASE_PORT          = "Database_Port"
	DATABASE_USER          = "Database_User"
	DATABASE_PASSWORD      = "Database_Password"
	DATABASE_NAME          = "Database_Name"
	DATABASE_SSL_MODE      = "Database_Ssl_Mode"
	DATABASE_SSL_ROOT_CERT = "Database_Ssl_Root_Cert"

	BROKERS           = "Kafka_Brokers"
	EVENTS_TOPIC      = "Kafka_Events_Topic"
	EVENTS_GROUP_ID   = "Kafka_Events_Group_Id"
	AUDIT_TOPIC       = "Kafka_Audit_Topic"
	AUDIT_BATCH_SIZE  = "Kafka_Audit_Batch_Size"
	AUDIT_BATCH_BYTES = "Kafka_Audit_Batch_Bytes"
	KAFKA_USERNAME    = "Kafka_Username"
	KAFKA_PASSWORD    = "Kafka_Password"
	KAFKA_SASL_MECH   = "Kafka_SASL_Mechanism"
	KAFKA_CA          = "Kafka_CA"
	DEFAULT_BROKER    = "kafka:29092"
)

type Config struct {
	UrlAppName                  string
	UrlPathPrefix               string
	UrlBasePath                 string
	HttpShutdownTimeout         time.Duration
	ServiceToServiceCredentials map[string]interface{}
	Profile                     bool
	DevelopmentMode             bool

	AuthTimeout             time.Duration
	ReadIdleTimeout         time.Duration
	MaxFrameSize            int64
	MaxConnectionsPerTenant int
	MaxConnectionsPerUser   int
	JwtSecret               string

	HeartbeatInterval   time.Duration
	MaxMissedPongs      int
	RateLimiterGcCycles int

	RateLimitStoreImpl          string
	ConnectionAttemptsPerMinute int
	MessagesPerMinute           int
	MessageSizeAccountingLimit  int
	ReconnectWindow             time.Duration
	ReconnectAttemptLimit       int
	ViolationBanThreshold       int
	BaseBackoff                 time.Duration
	MaxBackoff                  time.Duration
	BaseBanDuration             time.Duration
	MaxBanDuration              time.Duration

	RedisHost     string
	RedisPort     int
	RedisPassword string

	OfflineQueuePerUserLimit int
	OfflineQueueUserLimit    int

	SyncDefaultLookback time.Duration
	SyncMaxBatchSize    int

	DatabaseHost        string
	DatabasePort        int
	DatabaseUser        string
	DatabasePassword    string
	DatabaseName        string
	DatabaseSslMode     string
	DatabaseSslRootCert string

	KafkaBrokers         []string
	KafkaEventsTopic     string
	KafkaEventsGroupID   string
	KafkaAuditTopic      string
	KafkaAuditBatchSize  int
	KafkaAuditBatchBytes int
	KafkaUsername        string
	KafkaPassword        string
	KafkaSASLMechanism   string
	KafkaCA              string
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", URL_PATH_PREFIX, c.UrlPathPrefix)
	fmt.Fprintf(&b, "%s: %s\n", URL_APP_NAME, c.UrlAppName)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_SHUTDOWN_TIMEOUT, c.HttpShutdownTimeout)
	fmt.Fprintf(&b, "%s: %t\n", PROFILE, c.Profile)
	fmt.Fprintf(&b, "%s: %t\n", DEVELOPMENT_MODE, c.DevelopmentMode)
	fmt.Fprintf(&b, "%s: %s\n", AUTH_TIMEOUT, c.AuthTimeout)
	fmt.Fprintf(&b, "%s: %s\n", READ_IDLE_TIMEOUT, c.ReadIdleTimeout)
	fmt.Fprintf(&b, "%s: %d\n", MAX_FRAME_SIZE, c.MaxFrameSize)
	fmt.Fprintf(&b, "%s: %d\n", MAX_CONNECTIONS_PER_TENANT, c.MaxConnectionsPerTenant)
	fmt.Fprintf(&b, "%s: %d\n", MAX_CONNECTIONS_PER_USER, c.MaxConnectionsPerUser)
	fmt.Fprintf(&b, "%s: %s\n", HEARTBEAT_INTERVAL, c.HeartbeatInterval)
	fmt.Fprintf(&b, "%s: %d\n", MAX_MISSED_PONGS, c.MaxMissedPongs)
	fmt.Fprintf(&b, "%s: %d\n", RATE_LIMITER_GC_CYCLES, c.RateLimiterGcCycles)
	fmt.Fprintf(&b, "%s: %s\n", RATE_LIMIT_STORE_IMPL, c.RateLimitStoreImpl)
	fmt.Fprintf(&b, "%s: %d\n", CONNECTION_ATTEMPTS_PER_MINUTE, c.ConnectionAttemptsPerMinute)
	fmt.Fprintf(&b, "%s: %d\n", MESSAGES_PER_MINUTE, c.MessagesPerMinute)
	fmt.Fprintf(&b, "%s: %d\n", MESSAGE_SIZE_ACCOUNTING_LIMIT, c.MessageSizeAccountingLimit)
	fmt.Fprintf(&b, "%s: %s\n", RECONNECT_WINDOW, c.ReconnectWindow)
	fmt.Fprintf(&b, "%s: %d\n", RECONNECT_ATTEMPT_LIMIT, c.ReconnectAttemptLimit)
	fmt.Fprintf(&b, "%s: %d\n", VIOLATION_BAN_THRESHOLD, c.ViolationBanThreshold)
	fmt.Fprintf(&b, "%s: %s\n", BASE_BACKOFF, c.BaseBackoff)
	fmt.Fprintf(&b, "%s: %s\n", MAX_BACKOFF, c.MaxBackoff)
	fmt.Fprintf(&b, "%s: %s\n", BASE_BAN_DURATION, c.BaseBanDuration)
	fmt.Fprintf(&b, "%s: %s\n", MAX_BAN_DURATION, c.MaxBanDuration)
	fmt.Fprintf(&b, "%s: %s\n", REDIS_HOST, c.RedisHost)
	fmt.Fprintf(&b, "%s: %d\n", REDIS_PORT, c.RedisPort)
	fmt.Fprintf(&b, "%s: %d\n", OFFLINE_QUEUE_PER_USER_LIMIT, c.OfflineQueuePerUserLimit)
	fmt.Fprintf(&b, "%s: %d\n", OFFLINE_QUEUE_USER_LIMIT, c.OfflineQueueUserLimit)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_DEFAULT_LOOKBACK, c.SyncDefaultLookback)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_MAX_BATCH_SIZE, c.SyncMaxBatchSize)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_HOST, c.DatabaseHost)
	fmt.Fprintf(&b, "%s: %d\n", DATABASE_PORT, c.DatabasePort)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_NAME, c.DatabaseName)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_SSL_MODE, c.DatabaseSslMode)
	fmt.Fprintf(&b, "%s: %s\n", BROKERS, c.KafkaBrokers)
	fmt.Fprintf(&b, "%s: %s\n", EVENTS_TOPIC, c.KafkaEventsTopic)
	fmt.Fprintf(&b, "%s: %s\n", EVENTS_GROUP_ID, c.KafkaEventsGroupID)
	fmt.Fprintf(&b, "%s: %s\n", AUDIT_TOPIC, c.KafkaAuditTopic)
	fmt.Fprintf(&b, "%s: %d\n", AUDIT_BATCH_SIZE, c.KafkaAuditBatchSize)
	fmt.Fprintf(&b, "%s: %d\n", AUDIT_BATCH_BYTES, c.KafkaAuditBatchBytes)

	return b.String()
}

func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(URL_PATH_PREFIX, "api")
	options.SetDefault(URL_APP_NAME, "realtime-connector")
	options.SetDefault(HTTP_SHUTDOWN_TIMEOUT, 2)
	options.SetDefault(SERVICE_TO_SERVICE_CREDENTIALS, "")
	options.SetDefault(PROFILE, false)
	options.SetDefault(DEVELOPMENT_MODE, false)

	options.SetDefault(AUTH_TIMEOUT, 10)
	options.SetDefault(READ_IDLE_TIMEOUT, 60)
	options.SetDefault(MAX_FRAME_SIZE, 1048576)
	options.SetDefault(MAX_CONNECTIONS_PER_TENANT, 100)
	options.SetDefault(MAX_CONNECTIONS_PER_USER, 5)
	options.SetDefault(JWT_SECRET, "")

	options.SetDefault(HEARTBEAT_INTERVAL, 15)
	options.SetDefault(MAX_MISSED_PONGS, 3)
	options.SetDefault(RATE_LIMITER_GC_CYCLES, 20)

	options.SetDefault(RATE_LIMIT_STORE_IMPL, "memory")
	options.SetDefault(CONNECTION_ATTEMPTS_PER_MINUTE, 50)
	options.SetDefault(MESSAGES_PER_MINUTE, 60)
	options.SetDefault(MESSAGE_SIZE_ACCOUNTING_LIMIT, 10240)
	options.SetDefault(RECONNECT_WINDOW, 300)
	options.SetDefault(RECONNECT_ATTEMPT_LIMIT, 10)
	options.SetDefault(VIOLATION_BAN_THRESHOLD, 5)
	options.SetDefault(BASE_BACKOFF, 30)
	options.SetDefault(MAX_BACKOFF, 3600)
	options.SetDefault(BASE_BAN_DURATION, 300)
	options.SetDefault(MAX_BAN_DURATION, 86400)

	options.SetDefault(REDIS_HOST, "localhost")
	options.SetDefault(REDIS_PORT, 6379)
	options.SetDefault(REDIS_PASSWORD, "")

	options.SetDefault(OFFLINE_QUEUE_PER_USER_LIMIT, 100)
	options.SetDefault(OFFLINE_QUEUE_USER_LIMIT, 10000)

	options.SetDefault(SYNC_DEFAULT_LOOKBACK, 168*3600)
	options.SetDefault(SYNC_MAX_BATCH_SIZE, 500)

	options.SetDefault(DATABASE_HOST, "localhost")
	options.SetDefault(DATABASE_PORT, 5432)
	options.SetDefault(DATABASE_USER, "orderpulse")
	options.SetDefault(DATABASE_PASSWORD, "orderpulse")
	options.SetDefault(DATABASE_NAME, "realtime-connector")
	options.SetDefault(DATABASE_SSL_MODE, "disable")
	options.SetDefault(DATABASE_SSL_ROOT_CERT, "db_ssl_root_cert.pem")

	options.SetDefault(BROKERS, []string{DEFAULT_BROKER})
	options.SetDefault(EVENTS_TOPIC, "platform.pos.events")
	options.SetDefault(EVENTS_GROUP_ID, "realtime-connector-consumer")
	options.SetDefault(AUDIT_TOPIC, "platform.pos.sync-audit")
	options.SetDefault(AUDIT_BATCH_SIZE, 100)
	options.SetDefault(AUDIT_BATCH_BYTES, 1048576)

	options.SetEnvPrefix(ENV_PREFIX)
	options.AutomaticEnv()

	return &Config{
		UrlPathPrefix:               options.GetString(URL_PATH_PREFIX),
		UrlAppName:                  options.GetString(URL_APP_NAME),
		UrlBasePath:                 buildUrlBasePath(options.GetString(URL_PATH_PREFIX), options.GetString(URL_APP_NAME)),
		HttpShutdownTimeout:         options.GetDuration(HTTP_SHUTDOWN_TIMEOUT) * time.Second,
		ServiceToServiceCredentials: options.GetStringMap(SERVICE_TO_SERVICE_CREDENTIALS),
		Profile:                     options.GetBool(PROFILE),
		DevelopmentMode:             options.GetBool(DEVELOPMENT_MODE),

		AuthTimeout:             options.GetDuration(AUTH_TIMEOUT) * time.Second,
		ReadIdleTimeout:         options.GetDuration(READ_IDLE_TIMEOUT) * time.Second,
		MaxFrameSize:            options.GetInt64(MAX_FRAME_SIZE),
		MaxConnectionsPerTenant: options.GetInt(MAX_CONNECTIONS_PER_TENANT),
		MaxConnectionsPerUser:   options.GetInt(MAX_CONNECTIONS_PER_USER),
		JwtSecret:               options.GetString(JWT_SECRET),

		HeartbeatInterval:   options.GetDuration(HEARTBEAT_INTERVAL) * time.Second,
		MaxMissedPongs:      options.GetInt(MAX_MISSED_PONGS),
		RateLimiterGcCycles: options.GetInt(RATE_LIMITER_GC_CYCLES),

		RateLimitStoreImpl:          options.GetString(RATE_LIMIT_STORE_IMPL),
		ConnectionAttemptsPerMinute: options.GetInt(CONNECTION_ATTEMPTS_PER_MINUTE),
		MessagesPerMinute:           options.GetInt(MESSAGES_PER_MINUTE),
		MessageSizeAccountingLimit:  options.GetInt(MESSAGE_SIZE_ACCOUNTING_LIMIT),
		ReconnectWindow:             options.GetDuration(RECONNECT_WINDOW) * time.Second,
		ReconnectAttemptLimit:       options.GetInt(RECONNECT_ATTEMPT_LIMIT),
		ViolationBanThreshold:       options.GetInt(VIOLATION_BAN_THRESHOLD),
		BaseBackoff:                 options.GetDuration(BASE_BACKOFF) * time.Second,
		MaxBackoff:                  options.GetDuration(MAX_BACKOFF) * time.Second,
		BaseBanDuration:             options.GetDuration(BASE_BAN_DURATION) * time.Second,
		MaxBanDuration:              options.GetDuration(MAX_BAN_DURATION) * time.Second,

		RedisHost:     options.GetString(REDIS_HOST),
		RedisPort:     options.GetInt(REDIS_PORT),
		RedisPassword: options.GetString(REDIS_PASSWORD),

		OfflineQueuePerUserLimit: options.GetInt(OFFLINE_QUEUE_PER_USER_LIMIT),
		OfflineQueueUserLimit:    options.GetInt(OFFLINE_QUEUE_USER_LIMIT),

		SyncDefaultLookback: options.GetDuration(SYNC_DEFAULT_LOOKBACK) * time.Second,
		SyncMaxBatchSize:    options.GetInt(SYNC_MAX_BATCH_SIZE),

		DatabaseHost:        options.GetString(DATABASE_HOST),
		DatabasePort:        options.GetInt(DATABASE_PORT),
		DatabaseUser:        options.GetString(DATABASE_USER),
		DatabasePassword:    options.GetString(DATABASE_PASSWORD),
		DatabaseName:        options.GetString(DATABASE_NAME),
		DatabaseSslMode:     options.GetString(DATABASE_SSL_MODE),
		DatabaseSslRootCert: options.GetString(DATABASE_SSL_ROOT_CERT),

		KafkaBrokers:         options.GetStringSlice(BROKERS),
		KafkaEventsTopic:     options.GetString(EVENTS_TOPIC),
		KafkaEventsGroupID:   options.GetString(EVENTS_GROUP_ID),
		KafkaAuditTopic:      options.GetString(AUDIT_TOPIC),
		KafkaAuditBatchSize:  options.GetInt(AUDIT_BATCH_SIZE),
		KafkaAuditBatchBytes: options.GetInt(AUDIT_BATCH_BYTES),
		KafkaUsername:        options.GetString(KAFKA_USERNAME),
		KafkaPassword:        options.GetString(KAFKA_PASSWORD),
		KafkaSASLMechanism:   options.GetString(KAFKA_SASL_MECH),
		KafkaCA:              options.GetString(KAFKA_CA),
	}
}

func buildUrlBasePath(pathPrefix string, appName string) string {
	return fmt.Sprintf("/%s/%s/v1", pathPrefix, appName)
}
