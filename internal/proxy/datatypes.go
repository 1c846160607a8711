package proxy

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
)

// Portal parameter names.
const (
	paramStudent = "student"
	paramClass   = "cls"
	paramYear    = "uchYear"
)

var (
	emptyList   = json.RawMessage(`[]`)
	emptyObject = json.RawMessage(`{}`)
)

// dataType maps a caller-facing data type onto a portal action and the parameters
// that action needs.
type dataType struct {
	Name     string
	Action   string
	Params   []string
	Fallback json.RawMessage
}

var dataTypes = map[string]dataType{
	"marks":      {Name: "marks", Action: "GET_STUDENT_MARKS", Params: []string{paramStudent, paramYear, paramClass}, Fallback: emptyList},
	"subjects":   {Name: "subjects", Action: "GET_STUDENT_SUBJECTS", Params: []string{paramStudent, paramYear, paramClass}, Fallback: emptyList},
	"messages":   {Name: "messages", Action: "GET_STUDENT_MESSAGES", Params: []string{paramStudent}, Fallback: emptyList},
	"timetable":  {Name: "timetable", Action: "GET_TIMES", Params: []string{paramClass, paramYear}, Fallback: emptyList},
	"info":       {Name: "info", Action: "GET_STUDENT_INFO", Params: []string{paramStudent}, Fallback: emptyObject},
	"diary":      {Name: "diary", Action: "GET_STUDENT_DIARY", Params: []string{paramStudent, paramYear, paramClass}, Fallback: emptyList},
	"attendance": {Name: "attendance", Action: "GET_STUDENT_ATTENDANCE", Params: []string{paramStudent, paramYear, paramClass}, Fallback: emptyList},
}

func lookupDataType(name string) (dataType, bool) {
	dt, ok := dataTypes[name]
	return dt, ok
}

// DataTypes lists the supported data type names in sorted order.
func DataTypes() []string {
	names := make([]string, 0, len(dataTypes))
	for name := range dataTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type dataQuery struct {
	StudentID int64
	ClassID   int64
	Year      int
}

func (dt dataType) form(q dataQuery) url.Values {
	values := make(url.Values, len(dt.Params))
	for _, p := range dt.Params {
		switch p {
		case paramStudent:
			values.Set(p, strconv.FormatInt(q.StudentID, 10))
		case paramClass:
			values.Set(p, strconv.FormatInt(q.ClassID, 10))
		case paramYear:
			values.Set(p, strconv.Itoa(q.Year))
		}
	}
	return values
}
