package service

import (
	"fmt"
	"strings"

	"sarkari-sahayak/internal/domain"
)

const DefaultLanguage = "English"

// Languages son los idiomas que acepta el backend.
var Languages = []string{"English", "Hindi", "Marathi", "Tamil", "Bengali", "Gujarati"}

// SupportedLanguage normaliza el nombre del idioma; ok es false si no esta soportado.
func SupportedLanguage(lang string) (string, bool) {
	lang = strings.TrimSpace(lang)
	for _, l := range Languages {
		if strings.EqualFold(l, lang) {
			return l, true
		}
	}
	return "", false
}

type catalog struct {
	ServerError       string
	UploadFailed      string
	EligibilityFailed string
	Unauthorized      string
	EligibilityIntro  string
}

var catalogs = map[string]catalog{
	"English": {
		ServerError:       "⚠️ Server error. Check connection.",
		UploadFailed:      "⚠️ Upload failed.",
		EligibilityFailed: "⚠️ Eligibility check failed. These schemes are commonly available:",
		Unauthorized:      "⚠️ You are not authorized to use this service.",
		EligibilityIntro:  "Based on your inputs, you are eligible for the following key schemes:",
	},
	"Hindi": {
		ServerError:       "⚠️ सर्वर त्रुटि। कृपया कनेक्शन जांचें।",
		UploadFailed:      "⚠️ अपलोड विफल रहा।",
		EligibilityFailed: "⚠️ पात्रता जांच विफल रही। ये योजनाएं आमतौर पर उपलब्ध हैं:",
		Unauthorized:      "⚠️ आपको इस सेवा का उपयोग करने की अनुमति नहीं है।",
		EligibilityIntro:  "आपकी जानकारी के आधार पर, आप निम्नलिखित प्रमुख योजनाओं के लिए पात्र हैं:",
	},
}

func messagesFor(lang string) catalog {
	if c, ok := catalogs[lang]; ok {
		return c
	}
	return catalogs[DefaultLanguage]
}

// FAQ es una pregunta sugerida al abrir la conversacion.
type FAQ struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Summary  string `json:"summary"`
}

var faqs = []FAQ{
	{ID: "1", Question: "What is Pradhan Mantri Awas Yojana?", Summary: "Learn about the affordable housing scheme by the Government of India."},
	{ID: "2", Question: "How can I apply for a voter ID?", Summary: "Step-by-step process for voter ID registration in India."},
	{ID: "3", Question: "Tell me about income tax filing.", Summary: "A simplified explanation of how to file your income tax return."},
}

// FAQs devuelve una copia del catalogo de preguntas sugeridas.
func FAQs() []FAQ {
	return append([]FAQ(nil), faqs...)
}

// FindFAQ busca una pregunta sugerida por id.
func FindFAQ(id string) (FAQ, bool) {
	id = strings.TrimSpace(id)
	for _, f := range faqs {
		if f.ID == id {
			return f, true
		}
	}
	return FAQ{}, false
}

// fallbackSchemes se muestran cuando la elegibilidad no se pudo consultar.
var fallbackSchemes = []domain.Scheme{
	{Name: "Pradhan Mantri Awas Yojana", Description: "Affordable housing support for eligible urban and rural households.", Link: "https://pmaymis.gov.in"},
	{Name: "Ayushman Bharat (PM-JAY)", Description: "Health cover up to ₹5 lakh per family per year for hospitalisation.", Link: "https://pmjay.gov.in"},
	{Name: "PM Kisan Samman Nidhi", Description: "Income support of ₹6,000 per year for landholding farmer families.", Link: "https://pmkisan.gov.in"},
}

func eligibilityFallback(lang string) domain.Answer {
	return domain.Answer{
		Summary: messagesFor(lang).EligibilityFailed,
		Schemes: append([]domain.Scheme(nil), fallbackSchemes...),
	}
}

func eligibilityRequestText(p domain.EligibilityProfile) string {
	return fmt.Sprintf("Checking eligibility for: %s in %s, Caste: %s, Gender: %s...", p.Occupation, p.State, p.Caste, p.Gender)
}

// FormatAnswerText aplana una respuesta a texto plano para copiar, compartir o la terminal.
func FormatAnswerText(a domain.Answer) string {
	var b strings.Builder
	if a.Summary != "" {
		b.WriteString(a.Summary)
		b.WriteString("\n")
	}
	for i, s := range a.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	for _, t := range a.Tables {
		b.WriteString(strings.Join(t.Headers, " | "))
		b.WriteString("\n")
		for _, row := range t.Rows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
	}
	for _, s := range a.Schemes {
		fmt.Fprintf(&b, "- %s: %s", s.Name, s.Description)
		if s.Link != "" {
			fmt.Fprintf(&b, " (%s)", s.Link)
		}
		b.WriteString("\n")
	}
	for _, l := range a.Links {
		label := l.Label
		if label == "" {
			label = l.URL
		}
		fmt.Fprintf(&b, "%s: %s\n", label, l.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
