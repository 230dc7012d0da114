package azure

import (
	"fmt"
	"strings"
	"time"
)

// Settings configures the spatial anchors account connection.
//
// Authentication picks the first configured mechanism: account key, service
// principal (tenant/client/secret), then the ambient Azure credential chain.
type Settings struct {
	// Endpoint is the account domain, e.g. https://myaccount.mixedreality.azure.com.
	Endpoint string
	// AccountID identifies the spatial anchors account.
	AccountID string
	// AccountKey enables shared-key authentication when set.
	AccountKey string
	// TenantID, ClientID and ClientSecret enable service principal auth.
	TenantID     string
	ClientID     string
	ClientSecret string
	// Scope overrides the token scope requested for bearer auth.
	Scope string
	// WatchInterval is the locate-watch poll interval. Defaults to one second.
	WatchInterval time.Duration
}

const defaultScope = "https://sts.mixedreality.azure.com/.default"

func (s Settings) validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("azure: endpoint is required")
	}
	if strings.TrimSpace(s.AccountID) == "" {
		return fmt.Errorf("azure: account id is required")
	}
	return nil
}

func (s Settings) scope() string {
	if s.Scope != "" {
		return s.Scope
	}
	return defaultScope
}

func (s Settings) watchInterval() time.Duration {
	if s.WatchInterval > 0 {
		return s.WatchInterval
	}
	return time.Second
}
