package history

import (
	"fmt"
	"strings"

	"github.com/DukeRupert/wellpass/internal/domain"
)

// SetAppointmentField returns an updater that sets one measurement of one
// appointment row.
func SetAppointmentField(index int, field, value string) (Updater, error) {
	if index < 0 || index >= domain.AppointmentCount {
		return nil, domain.Invalid("form.appointment", fmt.Sprintf("appointment index %d out of range", index))
	}
	if _, err := (domain.Appointment{}).With(field, value); err != nil {
		return nil, err
	}
	return func(f domain.FormState) domain.FormState {
		row, _ := f.Appointments[index].With(field, value)
		f.Appointments[index] = row
		return f
	}, nil
}

// SetEvaluation returns an updater that sets the rating tag of a category.
func SetEvaluation(key, value string) (Updater, error) {
	if _, err := (domain.Evaluation{}).With(key, value); err != nil {
		return nil, err
	}
	return func(f domain.FormState) domain.FormState {
		f.Evaluation, _ = f.Evaluation.With(key, value)
		return f
	}, nil
}

// SetPage2Field returns an updater that sets one header field. Dates are
// stored with a normalized month name.
func SetPage2Field(field, value string) (Updater, error) {
	if _, err := (domain.Page2Data{}).With(field, value); err != nil {
		return nil, err
	}
	if field == "date" {
		value = domain.FormatClientDate(value)
	}
	return func(f domain.FormState) domain.FormState {
		f.Page2Data, _ = f.Page2Data.With(field, value)
		return f
	}, nil
}

// SetContact returns an updater that sets the phone or email.
func SetContact(field, value string) (Updater, error) {
	switch field {
	case "phone":
		return func(f domain.FormState) domain.FormState {
			f.Phone = value
			return f
		}, nil
	case "email":
		return func(f domain.FormState) domain.FormState {
			f.Email = strings.TrimSpace(value)
			return f
		}, nil
	default:
		return nil, domain.Invalid("form.contact", fmt.Sprintf("unknown contact field %q", field))
	}
}

// SetClientID returns an updater that records the identifier assigned to
// the form when it is first saved.
func SetClientID(id string) Updater {
	return func(f domain.FormState) domain.FormState {
		f.ClientID = id
		return f
	}
}

// OpenClient returns an updater that replaces the form with a stored client.
func OpenClient(c domain.Client) Updater {
	return func(domain.FormState) domain.FormState {
		return c.FormState()
	}
}

// Replace returns an updater that swaps in a whole form.
func Replace(next domain.FormState) Updater {
	return func(domain.FormState) domain.FormState {
		return next
	}
}

// Chain composes updaters left to right.
func Chain(fns ...Updater) Updater {
	return func(f domain.FormState) domain.FormState {
		for _, fn := range fns {
			f = fn(f)
		}
		return f
	}
}
