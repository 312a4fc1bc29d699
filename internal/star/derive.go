package star

import (
	"strconv"
	"strings"
	"time"
)

// Derivations applied while building dimension rows. All of them are pure;
// the ones depending on "today" take it as an argument so loads are
// reproducible under a pinned clock.

// Quarter returns the calendar quarter for a month, ((m-1) div 3)+1.
func Quarter(month int) int {
	return (month-1)/3 + 1
}

// Age range buckets for the customer dimension.
const (
	ageUnder20 = "Menos de 20"
	age20to40  = "20 a 40"
	age40to60  = "40 a 60"
	ageOver60  = "Más de 60"
	ageUnknown = "Desconocido"

	sexMale   = "Masculino"
	sexFemale = "Femenino"

	containerCan    = "Can"
	containerBottle = "Bottle"
)

// AgeRange buckets a birth date against a reference date.
func AgeRange(birth, now time.Time) string {
	if birth.IsZero() {
		return ageUnknown
	}
	years := wholeYears(birth, now)
	switch {
	case years < 20:
		return ageUnder20
	case years < 40:
		return age20to40
	case years < 60:
		return age40to60
	default:
		return ageOver60
	}
}

// TenureYears returns whole years elapsed since the employment date,
// clamped at zero for future dates.
func TenureYears(employed, now time.Time) int {
	if employed.IsZero() {
		return 0
	}
	y := wholeYears(employed, now)
	if y < 0 {
		return 0
	}
	return y
}

// SeniorityZone buckets salesperson tenure.
func SeniorityZone(tenureYears int) string {
	switch {
	case tenureYears < 1:
		return "Nuevo"
	case tenureYears < 5:
		return "Medio"
	default:
		return "Antiguo"
	}
}

// Sex expands the single-letter source codes. Unrecognized values pass
// through unchanged.
func Sex(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M":
		return sexMale
	case "F":
		return sexFemale
	default:
		return strings.TrimSpace(code)
	}
}

// ContainerType classifies the packaging description.
func ContainerType(envase string) string {
	if strings.Contains(strings.ToLower(envase), "can") {
		return containerCan
	}
	return containerBottle
}

// Liters parses the volume out of a packaging description such as
// "2 Liter" or "355 cm3". Only liter and cubic-centimeter/milliliter units
// are recognized; any other unit reports ok=false and the volume stays
// unset.
func Liters(envase string) (float64, bool) {
	fields := strings.Fields(strings.TrimSpace(envase))
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(fields[0], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(fields[1]) {
	case "liter", "liters":
		return n, true
	case "cm3", "cc", "ml":
		return n / 1000, true
	default:
		return 0, false
	}
}

// BeverageType classifies a product description by keyword. The first
// matching keyword wins.
func BeverageType(detalle string) string {
	d := strings.ToLower(detalle)
	switch {
	case strings.Contains(d, "diet"):
		return "Bebida de dieta"
	case strings.Contains(d, "caffeine"):
		return "Bebida de cafeína"
	case strings.Contains(d, "energy"):
		return "Bebida energética"
	case strings.Contains(d, "kool"):
		return "Bebida Kool"
	case strings.Contains(d, "root"):
		return "Bebida Root"
	case strings.Contains(d, "juice"):
		return "Jugo"
	case strings.Contains(d, "soda"):
		return "Bebida de soda"
	default:
		return "Otro tipo de bebida"
	}
}

// wholeYears counts completed years between from and now, honoring whether
// the anniversary has passed.
func wholeYears(from, now time.Time) int {
	years := now.Year() - from.Year()
	anniversary := from.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}
