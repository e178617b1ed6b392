package command

import (
	"context"
	"testing"

	"github.com/goliatone/go-apps/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestInstallAppMessage_ValidateReturnsRichError(t *testing.T) {
	err := (InstallAppMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.AppsErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.AppsErrorBadInput, rich.TextCode)
	}
}

func TestInstallAppCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *InstallAppCommand
	err := cmd.Execute(context.Background(), InstallAppMessage{Name: "ics-feed"})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

func TestUpdateAppMessage_RejectsEmptyAndUnknownStatus(t *testing.T) {
	if err := (UpdateAppMessage{AppID: "app-1"}).Validate(); err == nil {
		t.Fatalf("expected empty update error")
	}
	bogus := core.AppStatus("sleeping")
	if err := (UpdateAppMessage{AppID: "app-1", Update: core.AppUpdate{Status: &bogus}}).Validate(); err == nil {
		t.Fatalf("expected unknown status error")
	}
	connected := core.AppStatusConnected
	if err := (UpdateAppMessage{AppID: "app-1", Update: core.AppUpdate{Status: &connected}}).Validate(); err != nil {
		t.Fatalf("expected valid update, got %v", err)
	}
}
