// Пакет checklist — чек-лист соответствия требованиям оцифровки
// (Decreto 10.278/2020, Lei 13.787/2018) для одной медицинской карты.
//
// Два состояния:
//   - incomplete — хотя бы один обязательный пункт не отмечен
//   - complete — все обязательные пункты отмечены, CompletedAt != nil
//
// Переход определяется только значениями обязательных пунктов и
// пересчитывается при каждом изменении. Отметка завершения не «липкая»:
// снятие обязательного пункта отзывает её.
package checklist

// Item — имя пункта чек-листа.
type Item string

const (
	ItemMinResolution Item = "min_resolution"
	ItemCorrectFormat Item = "correct_format"
	ItemFaithfulCopy  Item = "faithful_copy"
	ItemLegible       Item = "legible"

	ItemIntegrityHash Item = "integrity_hash"
	ItemAccessControl Item = "access_control"
	ItemBackup        Item = "backup"
	ItemAuditLog      Item = "audit_log"

	ItemResponsibleName  Item = "responsible_name"
	ItemDigitizationDate Item = "digitization_date"
	ItemOriginalID       Item = "original_id"
	ItemFileHash         Item = "file_hash"

	ItemRetentionPeriod    Item = "retention_period"
	ItemHistoricalReview   Item = "historical_review"
	ItemPatientAccessRight Item = "patient_access_right"
)

// Category — группа пунктов.
type Category string

const (
	CategoryTechnical    Category = "technical"
	CategorySecurity     Category = "security"
	CategoryMetadata     Category = "metadata"
	CategoryRetentionLaw Category = "retention_law"
)

// Requirement — описание пункта в каталоге.
type Requirement struct {
	Item      Item     `json:"item"`
	Category  Category `json:"category"`
	Label     string   `json:"label"`
	Mandatory bool     `json:"mandatory"`
}

// Group — пункты одной категории с заголовком.
type Group struct {
	Category Category      `json:"category"`
	Title    string        `json:"title"`
	Items    []Requirement `json:"items"`
}

// groupTitles — заголовки категорий в порядке отображения.
var groupTitles = []struct {
	category Category
	title    string
}{
	{CategoryTechnical, "Requisitos técnicos - Decreto 10.278/2020"},
	{CategorySecurity, "Requisitos de segurança"},
	{CategoryMetadata, "Metadados obrigatórios - Anexo II do Decreto 10.278/2020"},
	{CategoryRetentionLaw, "Requisitos da Lei 13.787/2018"},
}

// catalog — единственный источник истины о составе чек-листа.
// Список обязательных пунктов выводится отсюда (Mandatory), а не дублируется.
var catalog = []Requirement{
	{ItemMinResolution, CategoryTechnical, "Resolução mínima de 300 dpi", true},
	{ItemCorrectFormat, CategoryTechnical, "Formato PDF/A ou PNG", true},
	{ItemFaithfulCopy, CategoryTechnical, "Reprodução fiel do documento original", true},
	{ItemLegible, CategoryTechnical, "Documento legível", true},

	{ItemIntegrityHash, CategorySecurity, "Hash SHA-256 gerado para integridade", true},
	{ItemAccessControl, CategorySecurity, "Controle de acesso configurado", false},
	{ItemBackup, CategorySecurity, "Backup realizado", false},
	{ItemAuditLog, CategorySecurity, "Log de auditoria registrado", false},

	{ItemResponsibleName, CategoryMetadata, "Nome do responsável pela digitalização", true},
	{ItemDigitizationDate, CategoryMetadata, "Data da digitalização", true},
	{ItemOriginalID, CategoryMetadata, "Identificação do documento original", true},
	{ItemFileHash, CategoryMetadata, "Hash do arquivo digitalizado", true},

	{ItemRetentionPeriod, CategoryRetentionLaw, "Prazo de guarda definido (20 anos)", true},
	{ItemHistoricalReview, CategoryRetentionLaw, "Avaliação de valor histórico realizada", false},
	{ItemPatientAccessRight, CategoryRetentionLaw, "Garantia de acesso ao paciente", false},
}

// index — пункт → позиция в каталоге.
var index = func() map[Item]int {
	m := make(map[Item]int, len(catalog))
	for i, r := range catalog {
		m[r.Item] = i
	}
	return m
}()

// Catalog возвращает копию каталога пунктов.
func Catalog() []Requirement {
	out := make([]Requirement, len(catalog))
	copy(out, catalog)
	return out
}

// Groups возвращает каталог, сгруппированный по категориям.
func Groups() []Group {
	groups := make([]Group, 0, len(groupTitles))
	for _, gt := range groupTitles {
		g := Group{Category: gt.category, Title: gt.title}
		for _, r := range catalog {
			if r.Category == gt.category {
				g.Items = append(g.Items, r)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// Mandatory возвращает обязательные пункты в порядке каталога.
func Mandatory() []Item {
	var out []Item
	for _, r := range catalog {
		if r.Mandatory {
			out = append(out, r.Item)
		}
	}
	return out
}

// Total — общее число пунктов.
func Total() int {
	return len(catalog)
}

// Known проверяет, что пункт есть в каталоге.
func Known(item Item) bool {
	_, ok := index[item]
	return ok
}

// Lookup возвращает описание пункта.
func Lookup(item Item) (Requirement, bool) {
	i, ok := index[item]
	if !ok {
		return Requirement{}, false
	}
	return catalog[i], true
}
