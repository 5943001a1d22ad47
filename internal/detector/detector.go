package detector

import (
	"context"
	"fmt"

	"fraudguard/internal/config"
	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

// Detector inspects one behavior event and returns a risk verdict. A
// detector that has nothing to say returns a Low verdict; an error means the
// detector could not run and its verdict must be excluded from aggregation.
type Detector interface {
	Name() string
	Detect(ctx context.Context, event *model.Context) (model.Verdict, error)
}

// Registry holds the active detector set in registration order. Registration
// is explicit; there is no conditional construction scattered across call
// sites.
type Registry struct {
	detectors []Detector
	byName    map[string]Detector
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Detector)}
}

func (r *Registry) Register(d Detector) error {
	if _, ok := r.byName[d.Name()]; ok {
		return fmt.Errorf("detector %q already registered", d.Name())
	}
	r.byName[d.Name()] = d
	r.detectors = append(r.detectors, d)
	return nil
}

func (r *Registry) Get(name string) (Detector, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Detectors returns the registered detectors in registration order.
func (r *Registry) Detectors() []Detector {
	out := make([]Detector, len(r.detectors))
	copy(out, r.detectors)
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.detectors))
	for _, d := range r.detectors {
		names = append(names, d.Name())
	}
	return names
}

// NewDefaultRegistry wires the built-in detector set from config. Disabled
// detectors are simply not registered.
func NewDefaultRegistry(cfg config.DetectorsConfig, collector *metrics.Collector) *Registry {
	r := NewRegistry()
	if cfg.Bot.Enabled {
		r.Register(NewBotDetector())
	}
	if cfg.IPRateLimit.Enabled {
		r.Register(NewIPRateLimitDetector(cfg.IPRateLimit, collector))
	}
	if cfg.Proxy.Enabled {
		r.Register(NewProxyDetector())
	}
	if cfg.MultiAccount.Enabled {
		r.Register(NewMultiAccountDetector(cfg.MultiAccount, collector))
	}
	if cfg.AbnormalPattern.Enabled {
		r.Register(NewAbnormalPatternDetector(collector))
	}
	if cfg.DataTamper.Enabled {
		r.Register(NewScoreManipulationDetector(cfg.DataTamper.Secret, collector))
	}
	if cfg.Automation.Enabled {
		r.Register(NewAutomationDetector(collector))
	}
	return r
}
