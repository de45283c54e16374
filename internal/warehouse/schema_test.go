package warehouse

import (
	"reflect"
	"testing"

	"salesdw/internal/storage"
)

func TestTables_OrderAndColumns(t *testing.T) {
	t.Parallel()

	tables := Tables()
	var names []string
	for _, tb := range tables {
		names = append(names, tb.Name)
	}
	if !reflect.DeepEqual(names, TableNames()) {
		t.Fatalf("table order=%v want %v", names, TableNames())
	}

	columns := func(tb storage.TableSpec) []string {
		var out []string
		for _, c := range tb.Columns {
			out = append(out, c.Name)
		}
		return out
	}
	if got := columns(tables[0]); !reflect.DeepEqual(got, landingColumns) {
		t.Fatalf("landing columns=%v want %v", got, landingColumns)
	}
	if got := columns(tables[3]); !reflect.DeepEqual(got, factColumns) {
		t.Fatalf("fact columns=%v want %v", got, factColumns)
	}
	if len(LandingRow{}.values()) != len(landingColumns) {
		t.Fatalf("LandingRow.values does not match landing columns")
	}
	if len(stagedFact{}.values("")) != len(factColumns) {
		t.Fatalf("stagedFact.values does not match fact columns")
	}
}
