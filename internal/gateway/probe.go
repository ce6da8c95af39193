package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Status summarises what the probe learned about the gateway.
type Status string

// Probe statuses.
const (
	StatusNotAvailable            Status = "not_available"
	StatusAvailableNotInitialized Status = "available_not_initialized"
	StatusConnected               Status = "connected"
	StatusConnectedWithError      Status = "connected_with_error"
	StatusModuleNotFound          Status = "module_not_found"
	StatusError                   Status = "error"
)

// Connection status strings.
const (
	ConnectionConnected    = "connected"
	ConnectionNotConnected = "not connected"
)

// Limits applied to probe output.
const (
	MaxCollections     = 10
	ErrorDetailLimit   = 120
	ListingDetailLimit = 80
)

// Report is the diagnostic view of the gateway.
type Report struct {
	Backend                string   `json:"backend"`
	Database               Status   `json:"database"`
	Detail                 string   `json:"detail,omitempty"`
	DatabaseURLConfigured  bool     `json:"database_url_configured"`
	DatabaseNameConfigured bool     `json:"database_name_configured"`
	ConnectionStatus       string   `json:"connection_status"`
	Collections            []string `json:"collections"`
}

// Probe inspects h without writing anything. It never fails: every problem,
// including a panicking driver, becomes a Status and a bounded Detail.
func Probe(ctx context.Context, h *Handle, s Settings) Report {
	rep := Report{
		Backend:                "running",
		Database:               StatusNotAvailable,
		DatabaseURLConfigured:  s.URLConfigured(),
		DatabaseNameConfigured: s.NameConfigured(),
		ConnectionStatus:       ConnectionNotConnected,
		Collections:            []string{},
	}

	switch {
	case h == nil:
		return rep
	case h.Gateway == nil && errors.Is(h.Err, ErrDriverNotFound):
		rep.Database = StatusModuleNotFound
		rep.Detail = Truncate(h.Err.Error(), ErrorDetailLimit)
		return rep
	case h.Gateway == nil && (h.Err == nil || errors.Is(h.Err, ErrNotConfigured)):
		rep.Database = StatusAvailableNotInitialized
		return rep
	case h.Gateway == nil:
		rep.Database = StatusError
		rep.Detail = Truncate(h.Err.Error(), ErrorDetailLimit)
		return rep
	}

	rep.ConnectionStatus = ConnectionConnected
	names, panicked, err := listCollections(ctx, h.Gateway)
	switch {
	case panicked:
		rep.Database = StatusError
		rep.Detail = Truncate(err.Error(), ErrorDetailLimit)
	case err != nil:
		rep.Database = StatusConnectedWithError
		rep.Detail = Truncate(err.Error(), ListingDetailLimit)
	default:
		rep.Database = StatusConnected
		if len(names) > MaxCollections {
			names = names[:MaxCollections]
		}
		rep.Collections = append(rep.Collections, names...)
	}
	return rep
}

func listCollections(ctx context.Context, gw Gateway) (names []string, panicked bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			names, panicked, err = nil, true, fmt.Errorf("gateway panic: %v", rec)
		}
	}()
	names, err = gw.ListCollectionNames(ctx)
	return names, false, err
}
