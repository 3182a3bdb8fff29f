// Package automation provides device triggers and the automation engine for
// the Gray Logic Hub.
//
// Integrations expose device triggers ("the Kodi box was turned on") through
// a DeviceTriggerPlatform. Automations bind those triggers to actions: a
// service call or a device command published to a protocol bridge.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                     │
//	│  ┌──────────────┐    ┌──────────────┐                   │
//	│  │  Platforms   │───▶│ kodi, ...    │ GetTriggers       │
//	│  │(platforms.go)│    │ (integration │ ValidateTrigger   │
//	│  └──────────────┘    │  packages)   │ AttachTrigger     │
//	│        │             └──────────────┘                   │
//	│        ▼  trigger fires (job runner)                    │
//	│  ┌──────────────────────────────────────────────┐       │
//	│  │  Run pipeline                                │       │
//	│  │  1. Child context of the triggering event    │       │
//	│  │  2. Record run (repository.go)               │       │
//	│  │  3. automation_triggered on bus and MQTT     │       │
//	│  │  4. Actions in order: service or MQTT cmd    │       │
//	│  │  5. Record outcome                           │       │
//	│  └──────────────────────────────────────────────┘       │
//	└─────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - TriggerConfig: One device trigger (platform, device_id, domain, entity_id, type)
//   - DeviceTriggerPlatform: What an integration implements to offer triggers
//   - Platforms: Registry dispatching trigger operations by domain
//   - Automation: Triggers plus ordered actions
//   - AutomationRun: Audit record of one firing
//
// # Usage
//
//	platforms := automation.NewPlatforms()
//	platforms.Register(kodiPlatform)
//
//	engine := automation.NewEngine(platforms, services, mqttClient, events, repo, log)
//	if err := engine.Load(automations); err != nil {
//	    return err
//	}
//	if err := engine.Start(ctx); err != nil {
//	    log.Warn("some triggers could not be attached", "error", err)
//	}
//	defer engine.Stop()
package automation
