// Package document renders contestation letters for analyzed infractions.
package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Infraction holds the identifying fields a letter embeds. All fields are
// required; callers pass records that have already been persisted.
type Infraction struct {
	NoticeNumber   string
	VehiclePlate   string
	InfractionType string
	IssuingAgency  string
	DateInfraction time.Time
	Value          float64
}

const dateLayout = "02/01/2006"

const letter = `
CONTESTAÇÃO DE AUTO DE INFRAÇÃO DE TRÂNSITO

Ao Ilustríssimo Senhor
Diretor da JARI - Junta Administrativa de Recursos de Infrações
%[1]s

Auto de Infração nº: %[2]s
Placa do Veículo: %[3]s
Data da Infração: %[4]s

O(A) requerente, devidamente qualificado(a), vem, respeitosamente, perante Vossa Senhoria,
apresentar CONTESTAÇÃO ao Auto de Infração em epígrafe, pelos fatos e fundamentos jurídicos
que passa a expor:

DOS FATOS

Em %[4]s, foi lavrado o Auto de Infração nº %[2]s,
imputando ao requerente a prática da infração: %[5]s, no valor de R$ %.2[6]f.

DO DIREITO

1. DA NULIDADE DO AUTO DE INFRAÇÃO

%[7]s

2. DOS PRINCÍPIOS CONSTITUCIONAIS

O presente auto de infração viola os princípios constitucionais do contraditório e da ampla defesa,
previstos no art. 5º, LV, da Constituição Federal.

3. DO CÓDIGO DE TRÂNSITO BRASILEIRO

Conforme disposto no CTB, Lei nº 9.503/97, o processo administrativo deve observar rigorosamente
os prazos e formalidades legais.

4. DO CÓDIGO DE DEFESA DO CONSUMIDOR

Aplicam-se ao caso as disposições do CDC, Lei nº 8.078/90, especialmente quanto à
proporcionalidade e razoabilidade das penalidades.

DO PEDIDO

Diante do exposto, requer-se:

a) O acolhimento da presente contestação;
b) A anulação do Auto de Infração nº %[2]s;
c) O arquivamento definitivo do processo.

Termos em que pede deferimento.

Local e Data: ________________

_________________________________
Assinatura do Requerente

DOCUMENTOS ANEXOS:
- Cópia do documento de identidade
- Cópia do documento do veículo
- Cópia da notificação de infração
`

// Render formats the contestation letter. legalArguments is inserted
// verbatim into the legal grounds section.
func Render(inf Infraction, legalArguments string) string {
	return fmt.Sprintf(letter,
		inf.IssuingAgency,
		inf.NoticeNumber,
		inf.VehiclePlate,
		inf.DateInfraction.Format(dateLayout),
		inf.InfractionType,
		inf.Value,
		legalArguments,
	)
}

// FileName returns the storage name for a generated letter:
// contestacao_<notice>_<first 8 hex digits of id>.txt.
func FileName(noticeNumber string, id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("contestacao_%s_%s.txt", sanitize(noticeNumber), hex[:8])
}

// sanitize keeps notice numbers usable as a single path element.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
