package records

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestNormalizeKey(t *testing.T) {
	is := is.New(t)

	is.Equal(NormalizeKey("Facility Name"), "facility_name")
	is.Equal(NormalizeKey("facilityName"), "facility_name")
	is.Equal(NormalizeKey("  Zip Code  "), "zip_code")
	is.Equal(NormalizeKey("Hours of Operation (Monday)"), "hours_of_operation_monday")
	is.Equal(NormalizeKey("license_number"), "license_number")
	is.Equal(NormalizeKey("\ufeffFacility ID"), "facility_id")
}

func TestReadCSV(t *testing.T) {
	is := is.New(t)

	data := "Facility Name,Facility ID,Address\n" +
		"Sunshine Daycare, 101 ,1 Main St\n" +
		",,\n" +
		"Little Stars,102\n"

	records, err := ReadCSV(context.Background(), strings.NewReader(data))
	is.NoErr(err)
	is.Equal(len(records), 2)
	is.Equal(records[0]["facility_name"], "Sunshine Daycare")
	is.Equal(records[0]["facility_id"], "101")
	is.Equal(records[1].Get("address"), "")
	is.Equal(records[1].Get("address", "facility_id"), "102")
}

func TestOpenCSVFile(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "facilities.csv")
	is.NoErr(os.WriteFile(path, []byte("Facility Name\nSunshine\n"), 0o644))

	src, err := Open(ctx, path)
	is.NoErr(err)
	defer src.Close()

	records, err := src.Records(ctx)
	is.NoErr(err)
	is.Equal(records, []Record{{"facility_name": "Sunshine"}})
}

func TestOpenSQLiteDatabase(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "childcare.db")

	db, err := sql.Open("sqlite3", "file:"+path)
	is.NoErr(err)
	_, err = db.Exec(`CREATE TABLE childcare_facilities ("Facility Name" TEXT, capacity INTEGER, phone TEXT)`)
	is.NoErr(err)
	_, err = db.Exec(`INSERT INTO childcare_facilities VALUES ('Sunshine', 42, NULL), ('Little Stars', 12, '555-0100')`)
	is.NoErr(err)
	is.NoErr(db.Close())

	src, err := Open(ctx, "sqlite:"+path)
	is.NoErr(err)
	defer src.Close()

	records, err := src.Records(ctx)
	is.NoErr(err)
	is.Equal(len(records), 2)
	is.Equal(records[0], Record{"facility_name": "Sunshine", "capacity": "42", "phone": ""})
	is.Equal(records[1]["phone"], "555-0100")
}

func TestOpenSQLiteWithNamedTable(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "permits.sqlite")

	db, err := sql.Open("sqlite3", "file:"+path)
	is.NoErr(err)
	_, err = db.Exec(`CREATE TABLE permits (permit_number TEXT)`)
	is.NoErr(err)
	_, err = db.Exec(`INSERT INTO permits VALUES ('P-1')`)
	is.NoErr(err)
	is.NoErr(db.Close())

	src, err := Open(ctx, path+"#permits")
	is.NoErr(err)
	defer src.Close()

	records, err := src.Records(ctx)
	is.NoErr(err)
	is.Equal(records, []Record{{"permit_number": "P-1"}})
}

func TestOpenRejectsInvalidTableName(t *testing.T) {
	is := is.New(t)

	_, err := Open(context.Background(), "sqlite:x.db#drop table;")
	is.True(err != nil)
}
