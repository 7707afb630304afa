package notifications

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/lookingforticket/ticketwatch/internal/provider/railway"
)

const separator = "━━━━━━━━━━━━━━━━━━━━"

// FormatAvailability renders the "seats found" message for a subscription.
func FormatAvailability(requestID int64, trains []railway.TrainInfo) string {
	var b strings.Builder
	b.WriteString("🎫 <b>Yangi joylar mavjud!</b>\n\n")
	fmt.Fprintf(&b, "So'rovingiz: <b>#%d</b>\n", requestID)
	fmt.Fprintf(&b, "Topilgan poyezdlar soni: <b>%d</b>\n\n", len(trains))
	b.WriteString(separator + "\n\n")

	for i, t := range trains {
		fmt.Fprintf(&b, "🚂 <b>%s</b> - %s\n", html.EscapeString(t.TrainNumber), html.EscapeString(t.Brand))
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(strings.Join(t.RouteStations, " → ")))
		fmt.Fprintf(&b, "⏰ %s (%s) → %s (%s)\n", t.DepartureTime, t.DepartureDate, t.ArrivalTime, t.ArrivalDate)
		fmt.Fprintf(&b, "⏱️ Yo'l vaqti: %s\n", t.TimeInWay)
		fmt.Fprintf(&b, "💺 Bo'sh o'rindiqlar: <b>%d</b> (%s)\n", t.FreeSeats, html.EscapeString(t.CarTypeShow))
		if t.MinTariff > 0 {
			fmt.Fprintf(&b, "💰 Minimal narx: %s so'm\n", FormatPrice(t.MinTariff))
		}
		if i < len(trains)-1 {
			b.WriteString("\n" + separator + "\n\n")
		}
	}
	return b.String()
}

// FormatPrompt renders the "still want these?" reminder.
func FormatPrompt(requestID int64, count int) string {
	return fmt.Sprintf("⚠️ <b>Eslatma</b>\n\n"+
		"Sizning so'rovingiz #%d uchun %d marta xabar yuborildi.\n\n"+
		"So'rovni deaktivatsiya qilishni xohlaysizmi?\n\n"+
		"(Agar javob bermasangiz, so'rov faol bo'lib qoladi)", requestID, count)
}

// PromptActions are the buttons attached to the reminder.
func PromptActions(requestID int64) [][]Action {
	return [][]Action{{
		{Label: "Ha", Ref: DeactivateRef(requestID)},
		{Label: "Yo'q, faol qolsin", Ref: KeepRef(requestID)},
	}}
}

// FormatPrice groups digits in threes with commas: 1234567 -> "1,234,567".
func FormatPrice(amount int64) string {
	s := strconv.FormatInt(amount, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
