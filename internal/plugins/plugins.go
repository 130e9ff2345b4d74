// Package plugins registers the builtin agent implementations with a
// loader. External plugins arrive through manifest directories instead.
package plugins

import (
	"github.com/mtzanidakis/sminos/internal/plugin"
	"github.com/mtzanidakis/sminos/internal/plugins/decisionmaker"
	"github.com/mtzanidakis/sminos/internal/plugins/pricemonitor"
	"github.com/mtzanidakis/sminos/internal/plugins/riskmanager"
	"github.com/mtzanidakis/sminos/internal/plugins/tokentransfer"
)

// RegisterBuiltins adds every builtin factory to the loader.
func RegisterBuiltins(l *plugin.Loader) {
	l.Register("price-monitor", pricemonitor.New)
	l.Register("risk-manager", riskmanager.New)
	l.Register("decision-maker", decisionmaker.New)
	l.Register("token-transfer", tokentransfer.New)
}
