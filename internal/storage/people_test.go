package storage

import (
	"errors"
	"testing"
	"time"
)

func mustSavePerson(t *testing.T, s *Store, p Person) {
	t.Helper()
	if err := s.SavePerson(p); err != nil {
		t.Fatalf("SavePerson(%s): %v", p.ID, err)
	}
}

func TestSavePersonUpsertByProfileURL(t *testing.T) {
	s := openTestStore(t)

	mustSavePerson(t, s, Person{
		ID: "p1", CompanyID: "acme", FullName: "Ada",
		ProfileURL: "https://example.com/in/ada",
	})
	// Second sighting of the same profile under the same tenant keeps the
	// original ID and refreshes the fields.
	mustSavePerson(t, s, Person{
		ID: "p2", CompanyID: "acme", FullName: "Ada L.",
		ProfileURL: "https://example.com/in/ada", CurrentTitle: "Staff Engineer",
	})

	got, err := s.FindPersonByProfileURL("acme", "https://example.com/in/ada")
	if err != nil {
		t.Fatalf("FindPersonByProfileURL: %v", err)
	}
	if got.ID != "p1" {
		t.Errorf("upsert changed identity: got ID %s, want p1", got.ID)
	}
	if got.FullName != "Ada L." || got.CurrentTitle != "Staff Engineer" {
		t.Errorf("upsert did not refresh fields: %+v", got)
	}

	if _, err := s.GetPerson("p2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no row for p2, got err=%v", err)
	}
}

func TestSamePersonDifferentTenants(t *testing.T) {
	s := openTestStore(t)

	mustSavePerson(t, s, Person{ID: "p1", CompanyID: "acme", ProfileURL: "https://example.com/in/ada"})
	mustSavePerson(t, s, Person{ID: "p2", CompanyID: "initech", ProfileURL: "https://example.com/in/ada"})

	if _, err := s.GetPerson("p1"); err != nil {
		t.Errorf("acme row missing: %v", err)
	}
	if _, err := s.GetPerson("p2"); err != nil {
		t.Errorf("initech row missing: %v", err)
	}
}

func TestPeopleWithoutProfileURLNeverCollide(t *testing.T) {
	s := openTestStore(t)

	mustSavePerson(t, s, Person{ID: "p1", CompanyID: "acme", FullName: "A"})
	mustSavePerson(t, s, Person{ID: "p2", CompanyID: "acme", FullName: "B"})

	candidates, err := s.ListCandidates("acme")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(candidates))
	}
}

func TestAddEmploymentClosesPreviousCurrent(t *testing.T) {
	s := openTestStore(t)
	mustSavePerson(t, s, Person{ID: "p1", CompanyID: "acme"})

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.AddEmploymentRecord(EmploymentRecord{
		ID: "e1", PersonID: "p1", NormalizedCompany: "acme",
		StartDate: start, IsCurrent: true,
	}); err != nil {
		t.Fatalf("first AddEmploymentRecord: %v", err)
	}
	if err := s.AddEmploymentRecord(EmploymentRecord{
		ID: "e2", PersonID: "p1", NormalizedCompany: "acme",
		StartDate: start.AddDate(2, 0, 0), IsCurrent: true,
	}); err != nil {
		t.Fatalf("second AddEmploymentRecord: %v", err)
	}

	records, err := s.ListEmploymentRecords("p1")
	if err != nil {
		t.Fatalf("ListEmploymentRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	current := 0
	for _, r := range records {
		if r.IsCurrent {
			current++
			if r.ID != "e2" {
				t.Errorf("current record is %s, want e2", r.ID)
			}
		} else if r.EndDate.IsZero() {
			t.Errorf("closed record %s has no end date", r.ID)
		}
	}
	if current != 1 {
		t.Errorf("got %d current records, want 1", current)
	}
}

func TestListEmploymentByPersons(t *testing.T) {
	s := openTestStore(t)
	mustSavePerson(t, s, Person{ID: "p1", CompanyID: "acme"})
	mustSavePerson(t, s, Person{ID: "p2", CompanyID: "acme"})

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, pid := range []string{"p1", "p2"} {
		if err := s.AddEmploymentRecord(EmploymentRecord{
			ID: "e" + pid, PersonID: pid, NormalizedCompany: "initech",
			StartDate: start.AddDate(0, i, 0),
		}); err != nil {
			t.Fatalf("AddEmploymentRecord: %v", err)
		}
	}

	byPerson, err := s.ListEmploymentByPersons([]string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatalf("ListEmploymentByPersons: %v", err)
	}
	if len(byPerson["p1"]) != 1 || len(byPerson["p2"]) != 1 {
		t.Errorf("unexpected grouping: %+v", byPerson)
	}
	if _, ok := byPerson["p3"]; ok {
		t.Error("p3 should have no records")
	}
}

func TestSaveConnectionIdempotent(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.SaveConnection(Connection{
		ID: "c1", CompanyID: "acme", ProfileURL: "https://example.com/in/bob", FullName: "Bob",
	})
	if err != nil {
		t.Fatalf("first SaveConnection: %v", err)
	}
	id2, err := s.SaveConnection(Connection{
		ID: "c2", CompanyID: "acme", ProfileURL: "https://example.com/in/bob", FullName: "Robert",
	})
	if err != nil {
		t.Fatalf("second SaveConnection: %v", err)
	}

	if id1 != "c1" || id2 != "c1" {
		t.Errorf("re-import should keep canonical id: got %s, %s", id1, id2)
	}

	conn, err := s.GetConnection("c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn.FullName != "Robert" {
		t.Errorf("re-import should refresh display fields, got %q", conn.FullName)
	}
}
