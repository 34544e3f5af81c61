// Package domain contains core business types and interfaces.
//
// This file defines the editable wellness pass form and the normalization
// applied whenever a form is read back from an untrusted source (the local
// cache, a stored client document, a request body).
package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AppointmentCount is the number of appointment rows on every pass.
const AppointmentCount = 26

// =============================================================================
// Form Types
// =============================================================================

// Appointment is one row of body-composition measurements. All values are
// free text exactly as the coach typed them.
type Appointment struct {
	Age      string `json:"age"`
	Height   string `json:"height"`
	Weight   string `json:"weight"`
	BodyFat  string `json:"bodyFat"`
	Water    string `json:"water"`
	Muscle   string `json:"muscle"`
	Physique string `json:"physique"`
	BMR      string `json:"bmr"`
	Basal    string `json:"basal"`
	Bone     string `json:"bone"`
	Visceral string `json:"visceral"`
}

// IsBlank returns true if no measurement has been entered.
func (a Appointment) IsBlank() bool {
	return a == Appointment{}
}

// With returns a copy of the appointment with field set to value.
func (a Appointment) With(field, value string) (Appointment, error) {
	switch field {
	case "age":
		a.Age = value
	case "height":
		a.Height = value
	case "weight":
		a.Weight = value
	case "bodyFat":
		a.BodyFat = value
	case "water":
		a.Water = value
	case "muscle":
		a.Muscle = value
	case "physique":
		a.Physique = value
	case "bmr":
		a.BMR = value
	case "basal":
		a.Basal = value
	case "bone":
		a.Bone = value
	case "visceral":
		a.Visceral = value
	default:
		return a, Invalid("appointment.set", "unknown appointment field "+strconv.Quote(field))
	}
	return a, nil
}

// Evaluation holds the rating tag chosen for each evaluated category.
type Evaluation struct {
	BodyFat       string `json:"bodyFat"`
	BodyWater     string `json:"bodyWater"`
	MuscleMass    string `json:"muscleMass"`
	VisceralFat   string `json:"visceralFat"`
	Questionnaire string `json:"questionnaire"`
}

// With returns a copy of the evaluation with key set to value.
func (e Evaluation) With(key, value string) (Evaluation, error) {
	switch key {
	case "bodyFat":
		e.BodyFat = value
	case "bodyWater":
		e.BodyWater = value
	case "muscleMass":
		e.MuscleMass = value
	case "visceralFat":
		e.VisceralFat = value
	case "questionnaire":
		e.Questionnaire = value
	default:
		return e, Invalid("evaluation.set", "unknown evaluation field "+strconv.Quote(key))
	}
	return e, nil
}

// Values returns the evaluation tags in display order.
func (e Evaluation) Values() []string {
	return []string{e.BodyFat, e.BodyWater, e.MuscleMass, e.VisceralFat, e.Questionnaire}
}

// Page2Data is the header block of the pass.
type Page2Data struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Coach string `json:"coach"`
	Age   string `json:"age"`
}

// With returns a copy of the header with field set to value.
func (p Page2Data) With(field, value string) (Page2Data, error) {
	switch field {
	case "date":
		p.Date = value
	case "name":
		p.Name = value
	case "coach":
		p.Coach = value
	case "age":
		p.Age = value
	default:
		return p, Invalid("page2.set", "unknown header field "+strconv.Quote(field))
	}
	return p, nil
}

// FormState is the editable record for one client pass.
//
// FormState is a plain value: it contains no maps, slices or pointers, so two
// states can be compared with == and copying one never aliases another.
type FormState struct {
	Appointments [AppointmentCount]Appointment `json:"appointments"`
	Evaluation   Evaluation                    `json:"evaluation"`
	Page2Data    Page2Data                     `json:"page2Data"`
	ClientID     string                        `json:"clientId"`
	Phone        string                        `json:"phone"`
	Email        string                        `json:"email"`
}

// DefaultFormState returns a blank form.
func DefaultFormState() FormState {
	return FormState{}
}

// IsNew returns true if the form has never been saved.
func (f FormState) IsNew() bool {
	return f.ClientID == ""
}

// LatestAppointment returns the last appointment row that has any value.
func (f FormState) LatestAppointment() (Appointment, int, bool) {
	for i := len(f.Appointments) - 1; i >= 0; i-- {
		if !f.Appointments[i].IsBlank() {
			return f.Appointments[i], i, true
		}
	}
	return Appointment{}, -1, false
}

// =============================================================================
// Normalization
// =============================================================================

// DecodeFormState parses a stored form. Missing sections take their defaults
// and the appointment list is padded or truncated to AppointmentCount rows.
// Malformed input returns the default form together with the parse error.
func DecodeFormState(data []byte) (FormState, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return DefaultFormState(), err
	}
	return NormalizeFormState(raw), nil
}

// NormalizeFormState builds a FormState from loosely typed JSON data.
func NormalizeFormState(raw map[string]any) FormState {
	return FormState{
		Appointments: NormalizeAppointments(raw["appointments"]),
		Evaluation:   NormalizeEvaluation(raw["evaluation"]),
		Page2Data:    NormalizePage2Data(raw["page2Data"]),
		ClientID:     textValue(raw["clientId"]),
		Phone:        textValue(raw["phone"]),
		Email:        textValue(raw["email"]),
	}
}

// NormalizeAppointments converts a loosely typed list into exactly
// AppointmentCount rows. Rows that are missing or not objects are blank.
func NormalizeAppointments(v any) [AppointmentCount]Appointment {
	var out [AppointmentCount]Appointment
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for i := 0; i < len(list) && i < AppointmentCount; i++ {
		m, ok := list[i].(map[string]any)
		if !ok {
			continue
		}
		out[i] = Appointment{
			Age:      textValue(m["age"]),
			Height:   textValue(m["height"]),
			Weight:   textValue(m["weight"]),
			BodyFat:  textValue(m["bodyFat"]),
			Water:    textValue(m["water"]),
			Muscle:   textValue(m["muscle"]),
			Physique: textValue(m["physique"]),
			BMR:      textValue(m["bmr"]),
			Basal:    textValue(m["basal"]),
			Bone:     textValue(m["bone"]),
			Visceral: textValue(m["visceral"]),
		}
	}
	return out
}

// NormalizeEvaluation converts a loosely typed object into an Evaluation.
func NormalizeEvaluation(v any) Evaluation {
	m, _ := v.(map[string]any)
	return Evaluation{
		BodyFat:       textValue(m["bodyFat"]),
		BodyWater:     textValue(m["bodyWater"]),
		MuscleMass:    textValue(m["muscleMass"]),
		VisceralFat:   textValue(m["visceralFat"]),
		Questionnaire: textValue(m["questionnaire"]),
	}
}

// NormalizePage2Data converts a loosely typed object into a Page2Data.
func NormalizePage2Data(v any) Page2Data {
	m, _ := v.(map[string]any)
	return Page2Data{
		Date:  textValue(m["date"]),
		Name:  textValue(m["name"]),
		Coach: textValue(m["coach"]),
		Age:   textValue(m["age"]),
	}
}

// textValue renders a decoded JSON scalar as text. Objects and arrays are
// not meaningful in a text field and become empty.
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// NormalizeKey is the comparison form used for names, phones and emails.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
