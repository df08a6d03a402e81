package domain

import "strings"

// EligibilityProfile son los datos del formulario de elegibilidad.
type EligibilityProfile struct {
	State      string `json:"state"`
	Caste      string `json:"caste"`
	Gender     string `json:"gender"`
	Occupation string `json:"occupation"`
}

// MissingField devuelve el primer campo vacio, o "" si el perfil esta completo.
func (p EligibilityProfile) MissingField() string {
	switch {
	case isBlank(p.State):
		return "state"
	case isBlank(p.Caste):
		return "caste"
	case isBlank(p.Gender):
		return "gender"
	case isBlank(p.Occupation):
		return "occupation"
	}
	return ""
}

// Document es un archivo listo para enviar al endpoint de analisis.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}

type Notification struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Time     string `json:"time"`
	Question string `json:"question"`
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
