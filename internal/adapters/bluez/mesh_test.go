package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

// bluetooth-meshd parses the exported application tree during Attach and
// silently drops elements whose properties carry the wrong D-Bus signature,
// so the marshaled types are part of the wire contract.
func TestMeshAppExportSignatures(t *testing.T) {
	app := &meshApp{
		appPath:  dbus.ObjectPath("/meshbeacon"),
		elemPath: dbus.ObjectPath("/meshbeacon/ele00"),
		modelID:  0x0001,
	}

	managed, derr := app.GetManagedObjects()
	if derr != nil {
		t.Fatalf("get managed objects: %v", derr)
	}

	elem, ok := managed[dbus.ObjectPath("/meshbeacon/ele00")][elementIface]
	if !ok {
		t.Fatalf("element object missing from managed tree")
	}
	if got := elem["VendorModels"].Signature().String(); got != "a(qqa{sv})" {
		t.Errorf("VendorModels signature = %q, want a(qqa{sv})", got)
	}
	if got := elem["Models"].Signature().String(); got != "a(qa{sv})" {
		t.Errorf("Models signature = %q, want a(qa{sv})", got)
	}
	if got := elem["Index"].Signature().String(); got != "y" {
		t.Errorf("Index signature = %q, want y", got)
	}

	models, ok := elem["VendorModels"].Value().([]vendorModelRef)
	if !ok || len(models) != 1 {
		t.Fatalf("expected exactly one vendor model, got %#v", elem["VendorModels"].Value())
	}
	if models[0].Company != companyID || models[0].ID != 0x0001 {
		t.Errorf("vendor model = %04x/%04x, want %04x/0001", models[0].Company, models[0].ID, companyID)
	}

	appProps, ok := managed[dbus.ObjectPath("/meshbeacon")][applicationIface]
	if !ok {
		t.Fatalf("application object missing from managed tree")
	}
	for _, name := range []string{"CompanyID", "ProductID", "VersionID"} {
		if got := appProps[name].Signature().String(); got != "q" {
			t.Errorf("%s signature = %q, want q", name, got)
		}
	}
}
