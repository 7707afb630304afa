package listener

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lookingforticket/ticketwatch/internal/notifications"
	"github.com/lookingforticket/ticketwatch/internal/session"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

const (
	maxMinSeats = 10

	textBadStation = "❌ Noto'g'ri stantsiya. Iltimos, qayta tanlang."
	textPastDate   = "❌ Sana o'tgan sanadan bo'lishi mumkin emas. Iltimos, kelajak sanasini kiriting:"
)

// The wizard walks a chat through origin, destination, date window, brands
// and seat count, keeping progress in the session store until the
// subscription is created.

func (h *Handler) newRequest(ctx context.Context, chatID int64) {
	if !h.registered(ctx, chatID) {
		return
	}

	stations, err := h.store.ListStations(ctx)
	if err != nil {
		h.fail(ctx, chatID, "list stations", err)
		return
	}
	if len(stations) < 2 {
		h.reply(ctx, chatID, "❌ Stantsiyalar ro'yxati hozircha bo'sh. Keyinroq urinib ko'ring.", nil)
		return
	}

	h.sessions.Set(chatID, session.Draft{State: session.StateChoosingFrom})
	h.reply(ctx, chatID, "📝 <b>Yangi so'rov yaratish</b>\n\nIltimos, jo'nash stantsiyasini tanlang:",
		stationRows(stations, notifications.RefFrom, ""))
}

func (h *Handler) chooseFrom(ctx context.Context, chatID int64, stationID string) {
	if !h.expect(ctx, chatID, session.StateChoosingFrom) {
		return
	}

	station, err := h.store.GetStation(ctx, stationID)
	if err != nil {
		h.reply(ctx, chatID, textBadStation, nil)
		return
	}
	stations, err := h.store.ListStations(ctx)
	if err != nil {
		h.fail(ctx, chatID, "list stations", err)
		return
	}

	h.sessions.Update(chatID, func(d *session.Draft) {
		d.StationFrom = station.ID
		d.State = session.StateChoosingTo
	})
	h.reply(ctx, chatID, fmt.Sprintf("✅ Jo'nash stantsiyasi: <b>%s</b>\n\nIltimos, yetib borish stantsiyasini tanlang:", station.Name),
		stationRows(stations, notifications.RefTo, station.ID))
}

func (h *Handler) chooseTo(ctx context.Context, chatID int64, stationID string) {
	if !h.expect(ctx, chatID, session.StateChoosingTo) {
		return
	}
	draft := h.sessions.Get(chatID)

	station, err := h.store.GetStation(ctx, stationID)
	if err != nil {
		h.reply(ctx, chatID, textBadStation, nil)
		return
	}
	if station.ID == draft.StationFrom {
		h.reply(ctx, chatID, "❌ Jo'nash va yetib borish stantsiyalari bir xil bo'lishi mumkin emas. Iltimos, boshqa stantsiya tanlang.", nil)
		return
	}

	h.sessions.Update(chatID, func(d *session.Draft) {
		d.StationTo = station.ID
		d.State = session.StateEnteringFromDate
	})
	h.reply(ctx, chatID, fmt.Sprintf("✅ Yetib borish stantsiyasi: <b>%s</b>\n\n"+
		"📅 Iltimos, jo'nash sanasining boshlanish sanasini kiriting (format: DD.MM.YYYY):\n"+
		"(Masalan: %s)", station.Name, h.today().AddDate(0, 0, 7).Format(dateLayout)), nil)
}

func (h *Handler) fromDateInput(ctx context.Context, chatID int64, text string) {
	from, ok := h.parseDate(ctx, chatID, text)
	if !ok {
		return
	}
	if from.Before(h.today()) {
		h.reply(ctx, chatID, textPastDate, nil)
		return
	}

	h.sessions.Update(chatID, func(d *session.Draft) {
		d.FromDate = from
		d.State = session.StateEnteringToDate
	})
	h.reply(ctx, chatID, fmt.Sprintf("✅ Boshlanish sanasi: <b>%s</b>\n\n"+
		"📅 Iltimos, jo'nash sanasining tugash sanasini kiriting (format: DD.MM.YYYY):\n"+
		"(Masalan: %s)", from.Format(dateLayout), from.AddDate(0, 0, 3).Format(dateLayout)), nil)
}

func (h *Handler) toDateInput(ctx context.Context, chatID int64, draft session.Draft, text string) {
	to, ok := h.parseDate(ctx, chatID, text)
	if !ok {
		return
	}
	if to.Before(draft.FromDate) {
		h.reply(ctx, chatID, "❌ Tugash sanasi boshlanish sanasidan oldin bo'lishi mumkin emas. Iltimos, qayta kiriting:", nil)
		return
	}
	if to.Before(h.today()) {
		h.reply(ctx, chatID, textPastDate, nil)
		return
	}

	draft = h.sessions.Update(chatID, func(d *session.Draft) {
		d.ToDate = to
		d.State = session.StateChoosingBrands
	})
	h.showBrands(ctx, chatID, draft)
}

func (h *Handler) toggleBrand(ctx context.Context, chatID, brandID int64) {
	if !h.expect(ctx, chatID, session.StateChoosingBrands) {
		return
	}
	draft := h.sessions.Update(chatID, func(d *session.Draft) { d.ToggleBrand(brandID) })
	h.showBrands(ctx, chatID, draft)
}

func (h *Handler) showBrands(ctx context.Context, chatID int64, draft session.Draft) {
	brands, err := h.store.ListBrands(ctx)
	if err != nil {
		h.fail(ctx, chatID, "list brands", err)
		return
	}

	var (
		rows     [][]notifications.Action
		row      []notifications.Action
		selected []string
	)
	for _, b := range brands {
		label := b.DisplayName
		if draft.HasBrand(b.ID) {
			label = "✅ " + b.DisplayName
			selected = append(selected, b.DisplayName)
		}
		row = append(row, notifications.Action{Label: label, Ref: notifications.RefBrand + strconv.FormatInt(b.ID, 10)})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	selectedText := "Hech qanday brend tanlanmagan (ALL)"
	if len(selected) == 0 {
		rows = append(rows, []notifications.Action{{Label: "ALL (Barcha brendlar)", Ref: notifications.RefBrandsAll}})
	} else {
		selectedText = strings.Join(selected, ", ")
		rows = append(rows, []notifications.Action{{
			Label: fmt.Sprintf("✅ Tugatish (%d tanlangan)", len(selected)),
			Ref:   notifications.RefBrandsDone,
		}})
	}

	h.reply(ctx, chatID, fmt.Sprintf("✅ Tugash sanasi: <b>%s</b>\n\n"+
		"Iltimos, poyezd brendlarini tanlang (bir nechta tanlash mumkin):\n\n"+
		"Tanlangan: <b>%s</b>\n\n"+
		"Brendlarni tanlash/tanlashni bekor qilish uchun tugmalarni bosing.",
		draft.ToDate.Format(dateLayout), selectedText), rows)
}

func (h *Handler) finishBrands(ctx context.Context, chatID int64, all bool) {
	if !h.expect(ctx, chatID, session.StateChoosingBrands) {
		return
	}
	h.sessions.Update(chatID, func(d *session.Draft) {
		if all {
			d.BrandIDs = nil
		}
		d.State = session.StateEnteringMinSeats
	})
	h.reply(ctx, chatID, fmt.Sprintf("💺 Necha kishi uchun joy kerak?\n\nMinimal bo'sh o'rindiqlar sonini kiriting (1-%d):", maxMinSeats), nil)
}

func (h *Handler) minSeatsInput(ctx context.Context, chatID int64, draft session.Draft, text string) {
	seats, err := strconv.Atoi(text)
	if err != nil || seats < 1 || seats > maxMinSeats {
		h.reply(ctx, chatID, fmt.Sprintf("❌ Iltimos, 1 dan %d gacha son kiriting:", maxMinSeats), nil)
		return
	}

	user, err := h.store.GetUserByChatID(ctx, chatID)
	if err != nil {
		h.fail(ctx, chatID, "look up user", err)
		return
	}

	sub := store.NewSubscription{
		UserID:      user.ID,
		StationFrom: draft.StationFrom,
		StationTo:   draft.StationTo,
		FromDate:    draft.FromDate,
		ToDate:      draft.ToDate,
		MinSeats:    seats,
		BrandIDs:    draft.BrandIDs,
		CreatedAt:   h.now(),
	}
	if err := sub.Validate(); err != nil {
		h.fail(ctx, chatID, "validate subscription", err)
		return
	}

	id, err := h.store.CreateSubscription(ctx, sub)
	if err != nil {
		h.fail(ctx, chatID, "create subscription", err)
		return
	}
	h.sessions.Clear(chatID)
	h.logger.Info("Created subscription", "subscription_id", id, "user_id", user.ID, "chat_id", chatID)

	brands, err := h.store.BrandDisplayNames(ctx, id)
	if err != nil {
		h.logger.Warn("Failed to load brands", "subscription_id", id, "error", err)
	}
	from, _ := h.store.GetStation(ctx, draft.StationFrom)
	to, _ := h.store.GetStation(ctx, draft.StationTo)

	h.out.Send(ctx, chatID, fmt.Sprintf("✅ <b>So'rov muvaffaqiyatli yaratildi!</b>\n\n"+
		"📋 So'rov №%d\n"+
		"📍 %s → %s\n"+
		"📅 %s - %s\n"+
		"🚂 Brendlar: %s\n"+
		"💺 Minimal o'rindiqlar: %d\n\n"+
		"Endi biz sizga bo'sh o'rindiqlar mavjud bo'lganda xabar beramiz!\n\n"+
		"/my_requests - Mening so'rovlarim",
		id, from.Name, to.Name,
		draft.FromDate.Format(dateLayout), draft.ToDate.Format(dateLayout),
		brandText(brands), seats), nil, store.MessageTypeStatus, id)
}

// expect checks the chat is on the given wizard step, telling it to start
// over when it is not (for example after pressing a stale button).
func (h *Handler) expect(ctx context.Context, chatID int64, state session.State) bool {
	if h.sessions.Get(chatID).State == state {
		return true
	}
	h.sessions.Clear(chatID)
	h.reply(ctx, chatID, textRestart, nil)
	return false
}

func (h *Handler) parseDate(ctx context.Context, chatID int64, text string) (time.Time, bool) {
	d, err := time.Parse(dateLayout, text)
	if err != nil {
		h.reply(ctx, chatID, "❌ Noto'g'ri sana formati. Iltimos, DD.MM.YYYY formatida kiriting (Masalan: 31.12.2025):", nil)
		return time.Time{}, false
	}
	return d, true
}

// stationRows lays stations out two per row, leaving out skip.
func stationRows(stations []store.Station, prefix, skip string) [][]notifications.Action {
	var (
		rows [][]notifications.Action
		row  []notifications.Action
	)
	for _, st := range stations {
		if st.ID == skip {
			continue
		}
		row = append(row, notifications.Action{Label: st.Name, Ref: prefix + st.ID})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}
