package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// configSchema is the CUE schema every configuration document must satisfy
// before it is decoded into Config.
const configSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

account: {
	endpoint:        string
	account_id:      string
	account_key?:    string
	tenant_id?:      string
	client_id?:      string
	client_secret?:  string
	scope?:          string
	watch_interval?: #Duration
}

session?: {
	readiness_interval?: #Duration
	default_expiration?: #Duration
	locate_filter?:      string
}

logging?: {
	level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic"
	format?: "json" | "text"
	loki?: {
		enabled?: bool
		url?:     string
		labels?: {[string]: string}
	}
}

telemetry?: {
	enabled?:  bool
	provider?: string
	listen?:   string
}
`

func validateDocument(document map[string]interface{}) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.Encode(document)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config document: %w", err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
