// Package config loads the HotMesh configuration envelope: an optional
// file, overlaid by HOTMESH_-prefixed environment variables, via the
// teacher's viper-based layering (cli/root.go's initConfig).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// WorkerSpec is one entry in Envelope.Workers.
type WorkerSpec struct {
	Topic        string `mapstructure:"topic"`
	Connection   string `mapstructure:"connection"`
	Callback     string `mapstructure:"callback"`
	ReclaimDelay int    `mapstructure:"reclaimDelay"`
	ReclaimCount int    `mapstructure:"reclaimCount"`
	TaskQueue    string `mapstructure:"taskQueue"`
}

// EngineSpec is the `engine` block of the envelope.
type EngineSpec struct {
	Connection string `mapstructure:"connection"`
	TaskQueue  string `mapstructure:"taskQueue"`
	Readonly   bool   `mapstructure:"readonly"`
}

// Envelope mirrors spec.md §6's configuration envelope exactly:
// {appId, namespace?, guid?, logLevel?, taskQueue?, engine, workers[]}.
type Envelope struct {
	AppID     string       `mapstructure:"appId"`
	Namespace string       `mapstructure:"namespace"`
	GUID      string       `mapstructure:"guid"`
	LogLevel  string       `mapstructure:"logLevel"`
	TaskQueue string       `mapstructure:"taskQueue"`
	Engine    EngineSpec   `mapstructure:"engine"`
	Workers   []WorkerSpec `mapstructure:"workers"`
}

// Load reads path (if non-empty) plus HOTMESH_-prefixed environment
// variables into an Envelope. Missing fields keep their zero value;
// Resolve applies defaults and precedence.
func Load(path string) (Envelope, error) {
	v := viper.New()
	v.SetEnvPrefix("HOTMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"appId", "namespace", "guid", "logLevel", "taskQueue"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Envelope{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var env Envelope
	if err := v.Unmarshal(&env); err != nil {
		return Envelope{}, fmt.Errorf("config: unmarshaling envelope: %w", err)
	}
	return env, nil
}

// ResolvedWorker is a WorkerSpec with its task queue precedence already
// applied.
type ResolvedWorker struct {
	WorkerSpec
	ResolvedTaskQueue string
}

// ResolvedConfig is the immutable result of Envelope.Resolve.
type ResolvedConfig struct {
	AppID     string
	Namespace string
	GUID      string
	LogLevel  string
	Engine    EngineSpec
	Workers   []ResolvedWorker
}

const defaultTaskQueue = "default"

// Resolve applies spec.md §6's task-queue precedence — component-specific
// > global taskQueue > default — once, producing the config cmd/hotmesh
// builds its components from.
func (e Envelope) Resolve() (ResolvedConfig, error) {
	if e.AppID == "" {
		return ResolvedConfig{}, fmt.Errorf("config: appId is required")
	}

	namespace := e.Namespace
	if namespace == "" {
		namespace = "hmsh"
	}
	logLevel := e.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	globalQueue := e.TaskQueue
	if globalQueue == "" {
		globalQueue = defaultTaskQueue
	}

	resolved := ResolvedConfig{
		AppID:     e.AppID,
		Namespace: namespace,
		GUID:      e.GUID,
		LogLevel:  logLevel,
		Engine:    e.Engine,
	}
	if resolved.Engine.TaskQueue == "" {
		resolved.Engine.TaskQueue = globalQueue
	}

	for _, w := range e.Workers {
		rw := ResolvedWorker{WorkerSpec: w}
		switch {
		case w.TaskQueue != "":
			rw.ResolvedTaskQueue = w.TaskQueue
		case globalQueue != "":
			rw.ResolvedTaskQueue = globalQueue
		default:
			rw.ResolvedTaskQueue = defaultTaskQueue
		}
		resolved.Workers = append(resolved.Workers, rw)
	}

	return resolved, nil
}
