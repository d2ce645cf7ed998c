package analysis

import "strings"

// Rule is one additive scoring step. Rules never short-circuit each other: a
// type label matching several categories collects every matching rule.
type Rule struct {
	Name      string
	Points    int
	Arguments []string
	Match     func(Facts) bool
}

// Argument texts, kept as named values so callers and tests can refer to them.
const (
	ArgSpeedCalibration = "Possível erro na calibração do equipamento de medição"
	ArgSpeedSignage     = "Verificação da sinalização adequada no local"
	ArgSpeedMargin      = "Análise da margem de erro do radar"

	ArgParkingSignage   = "Verificação da sinalização de proibição"
	ArgParkingHours     = "Análise do horário de funcionamento da restrição"
	ArgParkingAuthority = "Competência do agente autuador"

	ArgSignalFunction   = "Verificação do funcionamento do semáforo"
	ArgSignalVisibility = "Análise da visibilidade da sinalização"
	ArgSignalTiming     = "Tempo de amarelo adequado conforme CTB"

	ArgLateNotification  = "Notificação fora do prazo legal de 30 dias (Art. 280 CTB)"
	ArgGraveLateness     = "Violação grave do prazo de notificação"
	ArgMunicipalHighway  = "Possível incompetência do órgão municipal em rodovia estadual/federal"
	ArgDisproportionate  = "Valor desproporcional - análise sob ótica do CDC"
	ArgProcessRegularity = "Verificação da regularidade do processo administrativo"
	ArgLegitimacy        = "Análise da presunção de legitimidade do ato administrativo"
	ArgDefense           = "Direito ao contraditório e ampla defesa (CF/88)"
	ArgTypicity          = "Verificação da tipicidade da conduta"
)

const (
	notificationDeadlineDays = 30
	graveLatenessDays        = 60
	disproportionateValue    = 1000
)

// GeneralArguments are appended to every result after the rule arguments.
var GeneralArguments = []string{
	ArgProcessRegularity,
	ArgLegitimacy,
	ArgDefense,
	ArgTypicity,
}

// DefaultRules returns the scoring rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "speed",
			Points:    25,
			Arguments: []string{ArgSpeedCalibration, ArgSpeedSignage, ArgSpeedMargin},
			Match:     typeContains("velocidade"),
		},
		{
			Name:      "parking",
			Points:    30,
			Arguments: []string{ArgParkingSignage, ArgParkingHours, ArgParkingAuthority},
			Match:     typeContains("estacionamento"),
		},
		{
			Name:      "signal",
			Points:    20,
			Arguments: []string{ArgSignalFunction, ArgSignalVisibility, ArgSignalTiming},
			Match:     typeContains("semaforo", "sinal"),
		},
		{
			Name:      "late_notification",
			Points:    40,
			Arguments: []string{ArgLateNotification},
			Match: func(f Facts) bool {
				return f.NotificationDelayDays() > notificationDeadlineDays
			},
		},
		{
			Name:      "grave_lateness",
			Points:    20,
			Arguments: []string{ArgGraveLateness},
			Match: func(f Facts) bool {
				return f.NotificationDelayDays() > graveLatenessDays
			},
		},
		{
			Name:      "municipal_highway",
			Points:    35,
			Arguments: []string{ArgMunicipalHighway},
			Match: func(f Facts) bool {
				return contains(f.IssuingAgency, "municipal") && contains(f.Location, "rodovia")
			},
		},
		{
			Name:      "disproportionate_value",
			Points:    15,
			Arguments: []string{ArgDisproportionate},
			Match: func(f Facts) bool {
				return f.Value > disproportionateValue
			},
		},
	}
}

// typeContains matches when the infraction type holds any of the keywords.
func typeContains(keywords ...string) func(Facts) bool {
	return func(f Facts) bool {
		for _, kw := range keywords {
			if contains(f.InfractionType, kw) {
				return true
			}
		}
		return false
	}
}

func contains(s, keyword string) bool {
	return strings.Contains(strings.ToLower(s), keyword)
}
