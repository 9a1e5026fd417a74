package services

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is a reply style picked from the user's wording.
type Role string

const (
	RoleNone       Role = ""
	RoleTechnical  Role = "technical"
	RoleCommercial Role = "commercial"
	RoleSupportive Role = "supportive"
)

var roleKeywords = []struct {
	role Role
	keys []string
}{
	{RoleTechnical, []string{"kod", "error", "xato", "python", "javascript", "ai", "api", "server", "sql"}},
	{RoleCommercial, []string{"narx", "sotish", "savdo", "mijoz", "reklama", "marketing"}},
	{RoleSupportive, []string{"ruhiy", "psixolog", "depress", "stress", "maslahat"}},
}

var uzLower = cases.Lower(language.Uzbek)

// DetectRole returns the first role whose keywords occur in text.
func DetectRole(text string) Role {
	t := uzLower.String(text)
	for _, rk := range roleKeywords {
		for _, k := range rk.keys {
			if strings.Contains(t, k) {
				return rk.role
			}
		}
	}
	return RoleNone
}

// Instruction is the system line for the role; empty for RoleNone.
func (r Role) Instruction() string {
	switch r {
	case RoleTechnical:
		return "Javobni texnik uslubda, aniq kod misollari yoki buyruqlar bilan taqdim et."
	case RoleCommercial:
		return "Javobni tijoriy, qisqa va savdoga yo'naltirilgan tilda bering."
	case RoleSupportive:
		return "Javobni yumshoq, empatik va qo'llab-quvvatlovchi uslubda bering."
	}
	return ""
}
