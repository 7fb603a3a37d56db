package config

const (
	// EnvPrefix is the envconfig prefix shared by every service binary.
	EnvPrefix = "SHOPMALL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SHOPMALL_DB_DSN"
	EnvDBHost = "SHOPMALL_DB_HOST"
	EnvDBUser = "SHOPMALL_DB_USER"
	EnvDBName = "SHOPMALL_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
