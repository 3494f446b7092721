package patient

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/ehr/records/internal/platform/apperr"
)

type SortField string

const (
	SortByName   SortField = "name"
	SortByDOB    SortField = "dob"
	SortByCity   SortField = "city"
	SortByStatus SortField = "status"
	// SortByAge orders by age, i.e. by dob with the direction inverted.
	SortByAge SortField = "age"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type DOBOperator string

const (
	DOBBefore DOBOperator = "Before"
	DOBAfter  DOBOperator = "After"
	DOBOn     DOBOperator = "On"
)

const statusAll = "all"

type SortSpec struct {
	Field     SortField `json:"field"`
	Direction Direction `json:"direction"`
}

type DOBFilter struct {
	Date     string      `json:"date"`
	Operator DOBOperator `json:"operator"`
}

type FilterSpec struct {
	Name   string     `json:"name,omitempty"`
	City   string     `json:"city,omitempty"`
	Status string     `json:"status,omitempty"`
	DOB    *DOBFilter `json:"dob,omitempty"`
}

// ListRequest is a caller's view state. Nil parts mean "default".
type ListRequest struct {
	Sort   *SortSpec
	Filter *FilterSpec
}

// ListQuery is a validated, normalised ListRequest ready for the store.
type ListQuery struct {
	SortColumn SortField
	Descending bool

	NameFragment string
	City         string
	Status       Status
	DOB          *time.Time
	DOBOperator  DOBOperator
}

// ParseListRequest reads the listing query string. It does no validation;
// Normalize does.
func ParseListRequest(params url.Values) ListRequest {
	var req ListRequest

	sortBy, dir := params.Get("sortBy"), params.Get("sortDirection")
	if sortBy != "" || dir != "" {
		req.Sort = &SortSpec{Field: SortField(sortBy), Direction: Direction(dir)}
	}

	f := FilterSpec{
		Name:   params.Get("name"),
		City:   params.Get("city"),
		Status: params.Get("status"),
	}
	if dob := params.Get("dob"); dob != "" || params.Get("dobOperator") != "" {
		f.DOB = &DOBFilter{Date: dob, Operator: DOBOperator(params.Get("dobOperator"))}
	}
	if f != (FilterSpec{}) {
		req.Filter = &f
	}
	return req
}

// Encode is the inverse of ParseListRequest.
func (r ListRequest) Encode() url.Values {
	v := url.Values{}
	if r.Sort != nil {
		if r.Sort.Field != "" {
			v.Set("sortBy", string(r.Sort.Field))
		}
		if r.Sort.Direction != "" {
			v.Set("sortDirection", string(r.Sort.Direction))
		}
	}
	if f := r.Filter; f != nil {
		setIf(v, "name", f.Name)
		setIf(v, "city", f.City)
		setIf(v, "status", f.Status)
		if f.DOB != nil {
			setIf(v, "dob", f.DOB.Date)
			setIf(v, "dobOperator", string(f.DOB.Operator))
		}
	}
	return v
}

func setIf(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}

// Normalize validates r and applies defaults: name ascending, no filter.
// Any invalid part fails the whole request.
func (r ListRequest) Normalize() (ListQuery, error) {
	q := ListQuery{SortColumn: SortByName}

	if s := r.Sort; s != nil {
		switch s.Field {
		case "":
		case SortByName, SortByDOB, SortByCity, SortByStatus, SortByAge:
			q.SortColumn = s.Field
		default:
			return ListQuery{}, apperr.Validation("sortBy", "unknown sort field %q", s.Field)
		}
		switch s.Direction {
		case "", Asc:
		case Desc:
			q.Descending = true
		default:
			return ListQuery{}, apperr.Validation("sortDirection", "direction must be asc or desc, got %q", s.Direction)
		}
	}
	if q.SortColumn == SortByAge {
		q.SortColumn = SortByDOB
		q.Descending = !q.Descending
	}

	f := r.Filter
	if f == nil {
		return q, nil
	}

	q.NameFragment = NormalizeQueryName(f.Name)
	q.City = f.City

	if f.Status != "" && f.Status != statusAll {
		st := Status(f.Status)
		if !st.Valid() {
			return ListQuery{}, apperr.Validation("status", "unknown status %q", f.Status)
		}
		q.Status = st
	}

	if d := f.DOB; d != nil {
		if d.Date == "" {
			return ListQuery{}, apperr.Validation("dob", "date is required with a dob operator")
		}
		date, err := ParseDate(d.Date)
		if err != nil {
			return ListQuery{}, err
		}
		switch d.Operator {
		case "":
			q.DOBOperator = DOBOn
		case DOBBefore, DOBAfter, DOBOn:
			q.DOBOperator = d.Operator
		default:
			return ListQuery{}, apperr.Validation("dobOperator", "operator must be Before, After or On, got %q", d.Operator)
		}
		q.DOB = &date
	}
	return q, nil
}

// NormalizeQueryName lower-cases s and removes all whitespace, so that
// "John Smith", "johnsmith" and " JOHN  SMITH " are the same key.
func NormalizeQueryName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

var dateLayouts = []string{displayDateLayout, "01-02-2006", dateLayout}

// Accepted birth years.
const (
	minYear = 1900
	maxYear = 2099
)

// ParseDate accepts MM/DD/YYYY, MM-DD-YYYY or YYYY-MM-DD with a year in
// 1900-2099 and returns the date at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < minYear || t.Year() > maxYear {
			return time.Time{}, apperr.Validation("dob", "year must be between %d and %d", minYear, maxYear)
		}
		return t, nil
	}
	return time.Time{}, apperr.Validation("dob", "must be in the form mm/dd/yyyy")
}

// AgeAt returns the whole years between dob and now.
func AgeAt(dob, now time.Time) int {
	now = now.UTC()
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

func summarize(row *SummaryRow, now time.Time) Summary {
	s := Summary{
		ID:     row.ID,
		Name:   row.LastName + ", " + row.FirstName,
		DOB:    row.DOB.Format(dateLayout),
		Age:    AgeAt(row.DOB, now),
		Status: row.Status,
	}
	if row.City != nil {
		s.City = *row.City
	}
	return s
}
