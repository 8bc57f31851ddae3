package mapper

import (
	"errors"
	"strings"
	"testing"

	grc20errors "github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/diwise/kg-publisher/pkg/grc20/ops"
	"github.com/matryer/is"
)

func TestMapFacilityRecord(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("Facility", map[string]string{"facility_name": "Sunny Days", "city": "Tampa"})
	is.NoErr(err)

	locatedAt, _ := ops.NewRelation("facility-sunny-days", "location-tampa", "located-at-relation-type-id")
	followsSchedule, _ := ops.NewRelation("facility-sunny-days", "schedule-sunny-days", "follows-schedule-relation-type-id")

	is.Equal(result, []ops.Op{
		ops.NewCreateEntity("facility-sunny-days", "Sunny Days", "facility-type-id"),
		ops.NewSetProperty("facility-sunny-days", "facility-name-property-id", ops.Text("Sunny Days")),
		ops.NewCreateEntity("location-tampa", "Tampa", "location-type-id"),
		locatedAt,
		ops.NewCreateEntity("schedule-sunny-days", "Schedule of Sunny Days", "schedule-type-id"),
		followsSchedule,
	})
}

func TestMapRecordCreatesTargetsBeforeRelations(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("License", map[string]string{
		"license_number":      "L-100",
		"license_type":        "Family Child Care Home",
		"license_issue_date":  "03/15/2020",
		"license_expiry_date": "2025-03-15",
	})
	is.NoErr(err)

	created := map[string]bool{}
	for _, op := range result {
		switch o := op.(type) {
		case *ops.CreateEntity:
			created[o.ID] = true
		case *ops.CreateRelation:
			is.True(created[o.FromID])
			is.True(created[o.ToID])
		case *ops.SetProperty:
			is.True(created[o.EntityID])
		}
	}

	is.True(created["date-03-15-2020"])
	is.True(created["date-2025-03-15"])
	is.True(created["licensetype-family-child-care-home"])
}

func TestRelationTargetsFromOverridingFieldsCarryProperties(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("License", map[string]string{
		"license_number":      "L-100",
		"license_expiry_date": "2025-03-15",
	})
	is.NoErr(err)

	expiresOn, _ := ops.NewRelation("license-l-100", "date-2025-03-15", "expires-on-relation-type-id")

	is.Equal(result[len(result)-3:], []ops.Op{
		ops.NewCreateEntity("date-2025-03-15", "2025-03-15", "date-type-id"),
		ops.NewSetProperty("date-2025-03-15", "date-value-property-id", ops.Time("2025-03-15T00:00:00Z")),
		expiresOn,
	})

	result, err = m.MapRecord("Owner", map[string]string{
		"owner_name":                 "Jane Doe",
		"license_number":             "L-100",
		"phone_number":               "555-0100",
		"alternative_contact_number": "555-0199",
	})
	is.NoErr(err)

	phones := []ops.Op{}
	for _, op := range result {
		if sp, ok := op.(*ops.SetProperty); ok && sp.PropertyID == "phone-number-property-id" {
			phones = append(phones, sp)
		}
	}

	is.Equal(phones, []ops.Op{ops.NewSetProperty("phonenumber-555-0199", "phone-number-property-id", ops.Text("555-0199"))})
}

func TestTypedPropertiesAreParsed(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("License", map[string]string{"license_number": "L-100", "license_issue_date": "03/15/2020"})
	is.NoErr(err)
	is.Equal(result[2], ops.NewSetProperty("license-l-100", "date-originally-licensed-property-id", ops.Time("2020-03-15T00:00:00Z")))
}

func TestInvalidValuesFallBackToText(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("Facility", map[string]string{"facility_name": "Sunny Days", "capacity": "lots"})
	is.NoErr(err)
	is.Equal(result[2], ops.NewSetProperty("facility-sunny-days", "capacity-property-id", ops.Text("lots")))
}

func TestStrictMappingRejectsInvalidValues(t *testing.T) {
	is := is.New(t)

	schema, err := Load("childcare")
	is.NoErr(err)

	m := New(schema, Strict(true))

	_, err = m.MapRecord("Facility", map[string]string{"facility_name": "Sunny Days", "capacity": "lots"})
	is.True(errors.Is(err, grc20errors.ErrInvalidValue))
}

func TestScheduleEntriesAreExpandedPerDay(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("ScheduleEntry", map[string]string{
		"facility_name":             "Sunny Days",
		"hours_of_operation_monday": "7:00 AM - 6:00 PM",
		"hours_of_operation_friday": "7:00 AM - 5:00 PM",
	})
	is.NoErr(err)
	is.Equal(len(result), 10)

	hasDay, _ := ops.NewRelation("scheduleentry-sunny-days-monday", "dayofweek-monday", "has-day-relation-type-id")

	is.Equal(result[:5], []ops.Op{
		ops.NewCreateEntity("scheduleentry-sunny-days-monday", "Sunny Days monday", "schedule-entry-type-id"),
		ops.NewSetProperty("scheduleentry-sunny-days-monday", "day-property-id", ops.Text("monday")),
		ops.NewSetProperty("scheduleentry-sunny-days-monday", "hours-property-id", ops.Text("7:00 AM - 6:00 PM")),
		ops.NewCreateEntity("dayofweek-monday", "monday", "day-of-week-type-id"),
		hasDay,
	})
	is.Equal(result[5], ops.NewCreateEntity("scheduleentry-sunny-days-friday", "Sunny Days friday", "schedule-entry-type-id"))
}

func TestScheduleLinksEveryPresentEntry(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("Schedule", map[string]string{
		"facility_name":              "Sunny Days",
		"hours_of_operation_tuesday": "8-4",
		"hours_of_operation_sunday":  "closed",
	})
	is.NoErr(err)

	targets := []string{}
	for _, op := range result {
		if r, ok := op.(*ops.CreateRelation); ok && r.RelationTypeID == "has-operation-hours-relation-type-id" {
			targets = append(targets, r.ToID)
		}
	}

	is.Equal(targets, []string{"scheduleentry-sunny-days-tuesday", "scheduleentry-sunny-days-sunday"})
}

func TestRecordWithoutIdentityYieldsNothing(t *testing.T) {
	is, m := testSetup(t, "childcare")

	result, err := m.MapRecord("Facility", map[string]string{"city": "Tampa"})
	is.NoErr(err)
	is.Equal(len(result), 0)
}

func TestRequiredRelationWithoutTargetFails(t *testing.T) {
	is := is.New(t)

	schema, err := LoadSchema(strings.NewReader(`
name: test
types:
  - label: Facility
    idFields: [facility_name]
    relations:
      - target: Location
        relationTypeId: located-at
        required: true
  - label: Location
    idFields: [city]
`))
	is.NoErr(err)

	_, err = New(schema).MapRecord("Facility", map[string]string{"facility_name": "Sunny Days"})
	is.True(errors.Is(err, grc20errors.ErrRelationship))
}

func TestUnknownEntityType(t *testing.T) {
	is, m := testSetup(t, "childcare")

	_, err := m.MapRecord("Spaceship", map[string]string{"facility_name": "x"})
	is.True(err != nil)
}

func TestMissingIdentifiersAreGeneratedDeterministically(t *testing.T) {
	is := is.New(t)

	doc := `
name: generated
types:
  - label: Thing
    idFields: [name]
    properties:
      - column: name
    relations:
      - target: Thing
`
	a, err := LoadSchema(strings.NewReader(doc))
	is.NoErr(err)
	b, err := LoadSchema(strings.NewReader(doc))
	is.NoErr(err)

	ta, _ := a.Type("thing")
	tb, _ := b.Type("Thing")

	is.True(ta.TypeID != "")
	is.Equal(ta.TypeID, tb.TypeID)
	is.Equal(ta.Properties[0].PropertyID, tb.Properties[0].PropertyID)
	is.Equal(ta.Relations[0].RelationTypeID, tb.Relations[0].RelationTypeID)
	is.True(ta.TypeID != ta.Properties[0].PropertyID)
}

func TestInvalidSchemas(t *testing.T) {
	is := is.New(t)

	_, err := LoadSchema(strings.NewReader(`name: empty`))
	is.True(err != nil)

	_, err = LoadSchema(strings.NewReader("types:\n  - label: A\n    idFields: [a]\n    relations:\n      - target: B\n"))
	is.True(err != nil)

	_, err = LoadSchema(strings.NewReader("types:\n  - label: A\n    idFields: [a]\n    properties:\n      - column: a\n        kind: blob\n"))
	is.True(err != nil)

	_, err = LoadSchema(strings.NewReader("types:\n  - label: A\n"))
	is.True(err != nil)
}

func TestBuiltinSchemas(t *testing.T) {
	is := is.New(t)

	is.Equal(Builtins(), []string{"childcare", "permits"})

	permits, err := Load("permits")
	is.NoErr(err)

	result, err := New(permits).MapRecord("Permit", map[string]string{"record_number": "BLD-1"})
	is.NoErr(err)
	is.Equal(result[0], ops.NewCreateEntity("permit-bld-1", "Permit #BLD-1", "permit-type-id"))
}

func testSetup(t *testing.T, schema string) (*is.I, *Mapper) {
	is := is.New(t)

	s, err := Load(schema)
	is.NoErr(err)

	return is, New(s)
}
