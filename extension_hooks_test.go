package apps

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/goliatone/go-apps/core"
)

type extensionApp struct {
	name string
}

func (a extensionApp) Name() string { return a.name }

func (a extensionApp) ProcessRequest(context.Context, core.ConnectedAppData, json.RawMessage) (any, error) {
	return nil, nil
}

func TestExtensionHooks_RegisterAndApplyAppPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	pack := AppPack{
		Name: "downstream-pack",
		Factories: []core.AppFactory{
			func(core.Props) core.App { return extensionApp{name: "crm-sync"} },
		},
	}
	if err := hooks.RegisterAppPack(pack); err != nil {
		t.Fatalf("register app pack: %v", err)
	}
	if err := hooks.RegisterAppPack(pack); err == nil {
		t.Fatalf("expected duplicate app pack registration error")
	}
	if err := hooks.RegisterAppPack(AppPack{Name: "empty"}); err == nil {
		t.Fatalf("expected empty pack error")
	}

	registry := core.NewAppRegistry()
	if err := hooks.ApplyAppPacks(registry); err != nil {
		t.Fatalf("apply app packs: %v", err)
	}
	descriptor, ok := registry.Get("crm-sync")
	if !ok {
		t.Fatalf("expected app pack registration in registry")
	}
	if !descriptor.Capabilities.Has(core.CapabilityRequestProcessor) {
		t.Fatalf("expected request processor capability, got %s", descriptor.Capabilities)
	}
	if err := hooks.ApplyAppPacks(registry); err == nil {
		t.Fatalf("expected re-applying packs to fail on duplicate names")
	}
}

func TestExtensionHooks_BundlesAreBuiltInNameOrder(t *testing.T) {
	hooks := NewExtensionHooks()
	for _, name := range []string{"b_bundle", "a_bundle"} {
		name := name
		if err := hooks.RegisterCommandQueryBundle(name, func(service CommandQueryService) (any, error) {
			return map[string]any{"name": name, "install_fn": service.InstallApp}, nil
		}); err != nil {
			t.Fatalf("register bundle %s: %v", name, err)
		}
	}
	if err := hooks.RegisterCommandQueryBundle("a_bundle", func(CommandQueryService) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle registration error")
	}
	names := hooks.BundleNames()
	if len(names) != 2 || names[0] != "a_bundle" || names[1] != "b_bundle" {
		t.Fatalf("unexpected bundle order %#v", names)
	}

	svc, err := NewService(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	bundles, err := hooks.BuildCommandQueryBundles(svc)
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	if len(bundles) != 2 {
		t.Fatalf("expected two bundles, got %d", len(bundles))
	}
	if _, err := hooks.BuildCommandQueryBundles(nil); err == nil {
		t.Fatalf("expected nil service error")
	}
}
