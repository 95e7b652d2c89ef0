package motor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/team3128/robot/logging"
)

// Config binds a motor name to a driver model. Attributes are model specific and decoded by the
// model's constructor.
type Config struct {
	Name       string                 `json:"name"`
	Model      string                 `json:"model"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if cfg.Model == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "model")
	}
	if _, ok := lookup(cfg.Model); !ok {
		return goutils.NewConfigValidationError(path, NewUnknownModelError(cfg.Model))
	}
	return nil
}

// Constructor builds a motor from its config.
type Constructor func(ctx context.Context, conf Config, logger logging.Logger) (Motor, error)

// Registration describes how to build a motor model.
type Registration struct {
	Constructor Constructor
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// RegisterModel registers a motor model. It panics on duplicate registration.
func RegisterModel(model string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[model]; ok {
		panic(fmt.Sprintf("motor model %q already registered", model))
	}
	if reg.Constructor == nil {
		panic(fmt.Sprintf("motor model %q needs a constructor", model))
	}
	registry[model] = reg
}

// RegisteredModels returns the registered model names, sorted.
func RegisteredModels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := make([]string, 0, len(registry))
	for m := range registry {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func lookup(model string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[model]
	return reg, ok
}

// New builds the motor described by conf.
func New(ctx context.Context, conf Config, logger logging.Logger) (Motor, error) {
	reg, ok := lookup(conf.Model)
	if !ok {
		return nil, NewUnknownModelError(conf.Model)
	}
	m, err := reg.Constructor(ctx, conf, logger.Sublogger(conf.Name))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot build motor %s", conf.Name)
	}
	return m, nil
}

// DecodeAttributes converts a model's attribute map into its typed config.
func DecodeAttributes[T any](attributes map[string]interface{}) (*T, error) {
	var conf T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode motor attributes")
	}
	return &conf, nil
}
