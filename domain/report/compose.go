package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pyama86/slack-pulse/domain/metrics"
	"github.com/pyama86/slack-pulse/domain/model"
)

const (
	separator    = "----------"
	maxListItems = 8
	maxLinks     = 5
)

// Compose はレポート全文を組み立てる。物語部分以外はすべて集計結果から作る
func Compose(snap *Snapshot, rep *Report, now time.Time) string {
	s := snap.summary()
	var b strings.Builder

	fmt.Fprintf(&b, "📊 *PULSE REPORT - #%s*\n", snap.channelLabel())
	fmt.Fprintf(&b, "%s\n\n", now.Format("02/01/2006"))

	fmt.Fprintf(&b, "📊 *MÉTRICAS CLAVE (Últimos %d días hábiles)*\n%s\n", len(snap.Window.Dates), separator)
	fmt.Fprintf(&b, "📨 Mensajes: %d\n", s.TotalMessages)
	fmt.Fprintf(&b, "👥 Usuarios activos: %d de %d\n", s.ActiveUsers, s.TotalMembers)
	fmt.Fprintf(&b, "🔄 Actualizaciones: %d · ✅ Decisiones: %d · 🚧 Bloqueos: %d\n", s.Updates, s.Decisions, s.Blockers)
	fmt.Fprintf(&b, "🩺 Salud del equipo: %s\n%s\n\n", s.Health.Summary(), separator)

	b.WriteString("🎯 *ESTADO DEL PROYECTO*\n")
	b.WriteString(strings.ReplaceAll(rep.Narrative, "**", "*"))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "%s\n🚧 *BLOQUEOS Y RIESGOS*\n", separator)
	if len(s.BlockerItems) == 0 {
		b.WriteString("  • Sin bloqueos detectados\n")
	}
	for _, it := range limit(s.BlockerItems, maxListItems) {
		fmt.Fprintf(&b, "  • *%s*: %s", it.UserName, it.Text)
		if it.BlockedBy != "" && it.BlockedBy != "unspecified" {
			fmt.Fprintf(&b, " _(bloqueado por %s)_", it.BlockedBy)
		}
		b.WriteString("\n")
	}
	if s.Unblocks > 0 {
		fmt.Fprintf(&b, "  _Ofrecimientos de ayuda detectados: %d_\n", s.Unblocks)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s\n✅ *DECISIONES CLAVE*\n  *Tomadas:*\n", separator)
	writeItems(&b, s.DecisionItems, "Sin decisiones registradas")
	b.WriteString("  *Pendientes:*\n")
	writeItems(&b, s.PendingItems, "Sin decisiones pendientes")
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s\n💡 *RECOMENDACIONES*\n", separator)
	for i, r := range Recommendations(s) {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, r.Text)
	}
	b.WriteString("\n")

	if links := threadLinks(snap); len(links) > 0 {
		fmt.Fprintf(&b, "%s\n🔗 *HILOS RELEVANTES*\n", separator)
		for _, l := range links {
			fmt.Fprintf(&b, "  • %s\n", l)
		}
		b.WriteString("\n")
	}

	if len(rep.Warnings) > 0 {
		fmt.Fprintf(&b, "%s\n⚠️ *AVISOS*\n", separator)
		for _, w := range rep.Warnings {
			fmt.Fprintf(&b, "  • %s\n", w)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%s\n", separator)
	if rep.FromModel() {
		fmt.Fprintf(&b, "🤖 Generado por Pulse Agent · modelo · %d turnos, %d herramientas · run %s\n", rep.Turns, rep.ToolCalls, rep.RunID)
	} else {
		fmt.Fprintf(&b, "🤖 Generado por Pulse Agent · reporte de respaldo (sin modelo) · run %s\n", rep.RunID)
	}
	return b.String()
}

func writeItems(b *strings.Builder, items []metrics.Item, empty string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "    • %s\n", empty)
		return
	}
	for _, it := range limit(items, maxListItems) {
		fmt.Fprintf(b, "    • *%s* (%s): %s\n", it.UserName, it.Date, it.Text)
	}
	if len(items) > maxListItems {
		fmt.Fprintf(b, "    • … y %d más\n", len(items)-maxListItems)
	}
}

func limit(items []metrics.Item, n int) []metrics.Item {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// threadLinks は更新・決定・リスクのメッセージへのリンク
func threadLinks(snap *Snapshot) []string {
	s := snap.summary()
	groups := []struct {
		label string
		items []metrics.Item
	}{
		{"Actualización", s.UpdateItems},
		{"Decisión", s.DecisionItems},
		{"Riesgo", s.BlockerItems},
	}
	var links []string
	seen := map[string]bool{}
	for _, g := range groups {
		n := 0
		for _, it := range g.items {
			if n >= maxLinks || seen[it.MessageID] {
				continue
			}
			url := snap.link(it.TS)
			if url == "" {
				continue
			}
			seen[it.MessageID] = true
			links = append(links, fmt.Sprintf("<%s|%s de %s (%s)>", url, g.label, it.UserName, it.Date))
			n++
		}
	}
	return links
}

// fallbackNarrative はモデルを使わずに集計結果から状態を書く
func fallbackNarrative(snap *Snapshot) string {
	s := snap.summary()
	var b strings.Builder

	status := "Sin actividad suficiente para evaluar el proyecto"
	if s.TotalMessages > 0 {
		switch s.Health.Status {
		case "EXCELLENT":
			status = "El proyecto avanza con normalidad"
		case "GOOD":
			status = "El proyecto avanza con algunos puntos de atención"
		case "FAIR":
			status = "El proyecto presenta riesgos que requieren seguimiento"
		default:
			status = "El proyecto está en riesgo"
		}
	}
	fmt.Fprintf(&b, "  • *Status:* %s\n", status)
	fmt.Fprintf(&b, "  • *Progreso:* %d actualizaciones y %d decisiones en %d mensajes\n", s.Updates, s.Decisions, s.TotalMessages)
	fmt.Fprintf(&b, "  • *Nivel de urgencia:* %s (%.1f/10)\n", strings.ToUpper(string(overallUrgency(s))), s.UrgencyAvg)

	sentiment := "sin datos"
	if s.SentimentAvg != nil {
		sentiment = fmt.Sprintf("%s (%.2f)", snap.Config.Band(*s.SentimentAvg), *s.SentimentAvg)
	}
	fmt.Fprintf(&b, "  • *Sentiment:* %s\n", sentiment)
	fmt.Fprintf(&b, "  • *Participación:* %d de %d miembros activos", s.ActiveUsers, s.TotalMembers)
	if len(s.PerUser) > 0 {
		top := s.PerUser[0]
		fmt.Fprintf(&b, "; más activo: %s (%d mensajes)", top.UserName, top.MessageCount)
	}
	return b.String()
}

type Recommendation struct {
	Priority int
	Text     string
}

// Recommendations は優先度の高い順に並べた推奨アクション
func Recommendations(s *metrics.Summary) []Recommendation {
	var recs []Recommendation
	if s.Blockers > 0 {
		text := fmt.Sprintf("Resolver %d bloqueo(s) activo(s)", s.Blockers)
		if len(s.BlockerItems) > 0 {
			text += fmt.Sprintf(", empezando por el de %s", s.BlockerItems[0].UserName)
		}
		recs = append(recs, Recommendation{Priority: 100 + s.Blockers, Text: text})
	}
	if n := s.UrgencyCounts[model.UrgencyCritical] + s.UrgencyCounts[model.UrgencyHigh]; n > 0 {
		recs = append(recs, Recommendation{Priority: 90, Text: fmt.Sprintf("Atender %d mensaje(s) de urgencia alta o crítica", n)})
	}
	if s.NegativeShare > s.PositiveShare {
		recs = append(recs, Recommendation{Priority: 80, Text: "Revisar el clima del equipo: predomina el sentimiento negativo"})
	}
	if len(s.PendingItems) > 0 {
		recs = append(recs, Recommendation{Priority: 70, Text: fmt.Sprintf("Cerrar %d decisión(es) pendiente(s)", len(s.PendingItems))})
	}
	if s.TotalMembers > 0 && s.ActiveUsers*2 < s.TotalMembers {
		recs = append(recs, Recommendation{Priority: 60, Text: fmt.Sprintf("Involucrar a los miembros inactivos (%d de %d activos)", s.ActiveUsers, s.TotalMembers)})
	}
	if s.Health.Components.WorkloadDistribution < 50 && len(s.PerUser) > 1 && s.TotalMessages > 0 {
		top := s.PerUser[0]
		share := float64(top.MessageCount) / float64(s.TotalMessages) * 100
		recs = append(recs, Recommendation{Priority: 50, Text: fmt.Sprintf("Redistribuir la carga: %s concentra el %.0f%% de los mensajes", top.UserName, share)})
	}
	if s.Unclassified > 0 {
		recs = append(recs, Recommendation{Priority: 20, Text: fmt.Sprintf("Revisar %d mensaje(s) sin clasificar", s.Unclassified)})
	}
	if len(recs) == 0 {
		recs = append(recs, Recommendation{Priority: 0, Text: "Mantener el ritmo actual del equipo"})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority > recs[j].Priority
	})
	return recs
}
