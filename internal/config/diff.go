package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	AgentsAdded   []string
	AgentsRemoved []string
	AgentsChanged []string

	RouterChanged   bool
	NewDefaultAgent string

	EngineChanged bool
	NewEngine     EngineConfig

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.AgentsAdded) > 0 ||
		len(d.AgentsRemoved) > 0 ||
		len(d.AgentsChanged) > 0 ||
		d.RouterChanged ||
		d.EngineChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	// Agent diffs
	for name := range new.Agents {
		if _, ok := old.Agents[name]; !ok {
			d.AgentsAdded = append(d.AgentsAdded, name)
		}
	}
	for name := range old.Agents {
		if _, ok := new.Agents[name]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, name)
		}
	}
	for name, newDef := range new.Agents {
		if oldDef, ok := old.Agents[name]; ok {
			if !reflect.DeepEqual(oldDef, newDef) {
				d.AgentsChanged = append(d.AgentsChanged, name)
			}
		}
	}

	if old.Router.DefaultAgent != new.Router.DefaultAgent {
		d.RouterChanged = true
		d.NewDefaultAgent = new.Router.DefaultAgent
	}

	if !reflect.DeepEqual(old.Engine, new.Engine) {
		d.EngineChanged = true
		d.NewEngine = new.Engine
	}

	if !reflect.DeepEqual(old.Scheduler, new.Scheduler) {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	// Fields that require a restart.
	if old.Server.Listen != new.Server.Listen {
		d.NonReloadable = append(d.NonReloadable, "server.listen")
	}
	if old.Bus.Port != new.Bus.Port || old.Bus.DataDir != new.Bus.DataDir {
		d.NonReloadable = append(d.NonReloadable, "bus")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.NonReloadable = append(d.NonReloadable, "providers")
	}

	return d
}
