package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/accounts"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/features/purchase"
	"bintex.app/engine/internal/features/wheel"
)

const historyLimit = 10

const helpText = `📋 Commandes disponibles :
/solde — votre solde
/packs — les packs d'investissement
/acheter <pack> — acheter un pack
/gains — collecter vos gains
/bonus — bonus actionnaire
/roue — tourner la roue
/historique — vos dernières opérations
/parrainage — votre lien de parrainage
/retrait <gains|commissions> <montant> — demander un retrait`

// account находит аккаунт пользователя Telegram. Если его нет — подсказывает /start.
func (b *Bot) account(ctx context.Context, chatID, userID int64) (*ledger.Account, bool) {
	acc, err := b.svc.Accounts.GetByTelegramID(ctx, userID)
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return nil, false
	}
	return acc, true
}

// replyError переводит ошибку движка в сообщение пользователю.
func (b *Bot) replyError(ctx context.Context, chatID, userID int64, err error) {
	text := errorText(err)
	entry := log.WithError(err).WithField("user_id", userID)
	if text == genericErrorText {
		entry.Error("Ошибка обработки команды")
	} else {
		entry.Debug("Команда отклонена")
	}
	b.sendMessage(ctx, chatID, text)
}

const genericErrorText = "❌ Une erreur est survenue. Réessayez plus tard."

func errorText(err error) string {
	switch {
	case errors.Is(err, common.ErrAccountNotFound):
		return "👋 Vous n'êtes pas encore inscrit. Tapez /start pour créer votre compte."
	case errors.Is(err, common.ErrInsufficientBalance):
		return "❌ Solde insuffisant. Effectuez un dépôt puis réessayez."
	case errors.Is(err, common.ErrUnknownPack):
		return "❌ Pack inconnu. Tapez /packs pour voir la liste."
	case errors.Is(err, common.ErrNoSpinsAvailable):
		return "🎡 Vous n'avez aucun tour disponible."
	case errors.Is(err, common.ErrUnknownReferralCode):
		return "❌ Code de parrainage inconnu. Vérifiez le code ou tapez /start sans code."
	case errors.Is(err, common.ErrWithdrawalTooSmall):
		return "❌ Montant inférieur au minimum de retrait."
	case errors.Is(err, common.ErrInvalidAmount):
		return "❌ Montant invalide."
	case errors.Is(err, common.ErrDuplicateAccount), errors.Is(err, common.ErrReferralCycle):
		return "❌ Inscription impossible avec ces informations."
	case errors.Is(err, common.ErrConfiguration):
		return "⚙️ Service temporairement indisponible."
	case errors.Is(err, common.ErrStoreUnavailable), errors.Is(err, common.ErrConcurrentModification):
		return "⏳ Service occupé, réessayez dans un instant."
	}
	return genericErrorText
}

// handleStart регистрирует пользователя. /start BIN1234 — регистрация по коду.
//
// Формат ответа:
//
//	🎉 Bienvenue Awa !
//	Votre code de parrainage : BIN4821
func (b *Bot) handleStart(ctx context.Context, chatID int64, user *telego.User, args []string) {
	if acc, err := b.svc.Accounts.GetByTelegramID(ctx, user.ID); err == nil {
		b.sendMessage(ctx, chatID, fmt.Sprintf("👋 Bon retour %s !\n\n%s", displayName(acc, user), helpText))
		return
	} else if !errors.Is(err, common.ErrAccountNotFound) {
		b.replyError(ctx, chatID, user.ID, err)
		return
	}

	code := ""
	if len(args) > 0 {
		code = args[0]
	}
	telegramID := user.ID
	acc, err := b.svc.Accounts.Register(ctx, accounts.RegisterInput{
		TelegramID:   &telegramID,
		DisplayName:  strings.TrimSpace(user.FirstName + " " + user.LastName),
		ReferralCode: code,
	})
	if err != nil {
		b.replyError(ctx, chatID, user.ID, err)
		return
	}

	b.sendMessage(ctx, chatID, fmt.Sprintf(
		"🎉 Bienvenue %s !\nVotre code de parrainage : %s\nLien : %s\n\n%s",
		displayName(acc, user), acc.ReferralCode, accounts.ReferralLink(acc.ReferralCode), helpText,
	))
}

// handleBalance показывает балансы.
func (b *Bot) handleBalance(ctx context.Context, chatID, userID int64) {
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}

	var sb strings.Builder
	sb.WriteString("💰 Votre solde\n")
	fmt.Fprintf(&sb, "Principal : %s\n", common.FormatAmount(acc.BalanceMain))
	fmt.Fprintf(&sb, "Gains : %s\n", common.FormatAmount(acc.BalanceGains))
	fmt.Fprintf(&sb, "Commissions : %s\n", common.FormatAmount(acc.BalanceCommissions))
	fmt.Fprintf(&sb, "🎡 Roue : %d %s\n", acc.SpinCredits, common.PluralizeSpins(acc.SpinCredits))

	if len(acc.ActivePacks) > 0 {
		daily := decimal.Zero
		for _, p := range acc.ActivePacks {
			daily = daily.Add(p.DailyReturn)
		}
		fmt.Fprintf(&sb, "📦 Packs actifs : %d (%s / jour)", len(acc.ActivePacks), common.FormatAmount(daily))
	} else {
		sb.WriteString("📦 Aucun pack actif. Tapez /packs.")
	}
	b.sendMessage(ctx, chatID, sb.String())
}

// handlePacks выводит каталог.
func (b *Bot) handlePacks(ctx context.Context, chatID int64) {
	packs := b.svc.Catalog.List()
	if len(packs) == 0 {
		b.sendMessage(ctx, chatID, errorText(common.ErrConfiguration))
		return
	}

	var sb strings.Builder
	sb.WriteString("📦 Packs disponibles\n")
	for _, p := range packs {
		fmt.Fprintf(&sb, "\n• %s — %s, gain %s / jour", p.Name, common.FormatAmount(p.Price), common.FormatAmount(p.DailyReturn))
	}
	sb.WriteString("\n\nPour acheter : /acheter <pack>")
	b.sendMessage(ctx, chatID, sb.String())
}

// handleBuy покупает пакет. Название может состоять из нескольких слов.
func (b *Bot) handleBuy(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) == 0 {
		b.sendMessage(ctx, chatID, "❌ Format : /acheter <pack>. Tapez /packs pour voir la liste.")
		return
	}
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}

	res, err := b.svc.Purchases.PurchasePack(ctx, purchase.Request{
		AccountID: acc.ID,
		PackName:  strings.Join(args, " "),
	})
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return
	}

	text := fmt.Sprintf("✅ Pack %s activé !\nGain quotidien : %s\nSolde principal : %s",
		res.Pack.Name, common.FormatAmount(res.Pack.DailyReturn), common.FormatAmount(res.Account.BalanceMain))
	if res.Account.SpinCredits > acc.SpinCredits {
		n := res.Account.SpinCredits - acc.SpinCredits
		text += fmt.Sprintf("\n🎡 +%d %s de roue", n, common.PluralizeSpins(n))
	}
	b.sendMessage(ctx, chatID, text)
}

// handleGains начисляет доход за прошедшие сутки.
func (b *Bot) handleGains(ctx context.Context, chatID, userID int64) {
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}
	if !acc.HasActivePack() {
		b.sendMessage(ctx, chatID, "📦 Aucun pack actif. Tapez /packs.")
		return
	}

	res, err := b.svc.Rewards.AccrueRewards(ctx, acc.ID)
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return
	}
	if !res.Applied {
		b.sendMessage(ctx, chatID, "⏳ Aucun gain à collecter pour l'instant. Revenez demain !")
		return
	}

	text := fmt.Sprintf("💸 +%s (%d %s)\nSolde gains : %s",
		common.FormatAmount(res.Credited), res.DaysProcessed, common.PluralizeDays(res.DaysProcessed),
		common.FormatAmount(res.Account.BalanceGains))
	if len(res.AwardedTiers) > 0 {
		text += "\n🏆 Nouveau bonus débloqué ! Tapez /bonus."
	}
	b.sendMessage(ctx, chatID, text)
}

// handleBonus выплачивает достигнутые тиры и показывает прогресс.
func (b *Bot) handleBonus(ctx context.Context, chatID, userID int64) {
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}

	awarded, err := b.svc.Bonuses.EvaluateBonuses(ctx, acc.ID)
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return
	}
	stats, err := b.svc.Bonuses.Network(ctx, acc.ID)
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return
	}
	claimed := make(map[string]bool, len(acc.ClaimedTiers)+len(awarded))
	for _, id := range acc.ClaimedTiers {
		claimed[id] = true
	}
	for _, id := range awarded {
		claimed[id] = true
	}

	var sb strings.Builder
	if len(awarded) > 0 {
		fmt.Fprintf(&sb, "🎉 %d bonus débloqué(s) !\n\n", len(awarded))
	}
	fmt.Fprintf(&sb, "🏆 Bonus actionnaire\nFilleuls directs actifs : %d\nRéseau actif : %d\n", stats.L1Active, stats.TotalActive)
	for _, t := range b.svc.Bonuses.Tiers() {
		label := t.Label
		if label == "" {
			label = t.ID
		}
		mark := "⬜"
		if claimed[t.ID] {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "\n%s %s — %s (%d/%d)", mark, label, common.FormatAmount(t.Amount), min(stats.Value(t.Metric), t.Threshold), t.Threshold)
	}
	b.sendMessage(ctx, chatID, sb.String())
}

// handleWheel крутит колесо.
func (b *Bot) handleWheel(ctx context.Context, chatID, userID int64) {
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}
	out, err := b.svc.Wheel.SpinWheel(ctx, acc.ID)
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return
	}

	var text string
	switch out.Prize.Kind {
	case wheel.PrizeCash:
		text = fmt.Sprintf("🎉 Vous gagnez %s !", common.FormatAmount(out.Prize.Amount))
	case wheel.PrizePack:
		text = fmt.Sprintf("🎁 Vous gagnez le pack %s !", out.Prize.Pack)
	default:
		text = "😕 Pas de chance cette fois."
	}
	left := out.Account.SpinCredits
	text += fmt.Sprintf("\n🎡 Il vous reste %d %s.", left, common.PluralizeSpins(left))
	b.sendMessage(ctx, chatID, text)
}

// handleHistory показывает последние операции.
//
// Формат ответа:
//
//	📜 Dernières opérations
//	19/10/2026 14:05 — Pack Starter : 2 000 FCFA
func (b *Bot) handleHistory(ctx context.Context, chatID, userID int64) {
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}
	txs, err := b.svc.Accounts.History(ctx, acc.ID, historyLimit)
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return
	}
	if len(txs) == 0 {
		b.sendMessage(ctx, chatID, "📜 Aucune opération pour l'instant.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 Dernières opérations\n")
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		line := fmt.Sprintf("\n%s — %s : %s", common.FormatDateTime(tx.CreatedAt, b.loc), tx.Detail, common.FormatAmount(tx.Amount))
		if tx.Status == ledger.StatusPending {
			line += " (en attente)"
		}
		sb.WriteString(line)
	}
	b.sendMessage(ctx, chatID, sb.String())
}

// handleReferral показывает код, ссылку и размер сети.
func (b *Bot) handleReferral(ctx context.Context, chatID, userID int64) {
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}

	text := fmt.Sprintf("🤝 Votre code : %s\nLien : %s\nCommissions : %s",
		acc.ReferralCode, accounts.ReferralLink(acc.ReferralCode), common.FormatAmount(acc.BalanceCommissions))
	if b.svc.Bonuses != nil {
		if stats, err := b.svc.Bonuses.Network(ctx, acc.ID); err == nil {
			for i, n := range stats.Members {
				text += fmt.Sprintf("\nNiveau %d : %d (actifs %d)", i+1, n, stats.Active[i])
			}
		} else {
			log.WithError(err).WithField("user_id", userID).Warn("Не удалось посчитать сеть")
		}
	}
	b.sendMessage(ctx, chatID, text)
}

// handleWithdrawal создаёт заявку на вывод: /retrait gains 5000.
func (b *Bot) handleWithdrawal(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) != 2 {
		b.sendMessage(ctx, chatID, "❌ Format : /retrait <gains|commissions> <montant>")
		return
	}
	source := ledger.Balance(strings.ToLower(args[0]))
	amount, err := decimal.NewFromString(strings.ReplaceAll(args[1], ",", "."))
	if err != nil {
		b.sendMessage(ctx, chatID, errorText(common.ErrInvalidAmount))
		return
	}
	acc, ok := b.account(ctx, chatID, userID)
	if !ok {
		return
	}

	updated, _, err := b.svc.Accounts.RequestWithdrawal(ctx, acc.ID, source, amount)
	if err != nil {
		b.replyError(ctx, chatID, userID, err)
		return
	}
	b.sendMessage(ctx, chatID, fmt.Sprintf("✅ Demande de retrait de %s enregistrée.\nElle sera traitée par un opérateur.\nSolde %s : %s",
		common.FormatAmount(amount), source, common.FormatAmount(updated.BalanceOf(source))))
}

func displayName(acc *ledger.Account, user *telego.User) string {
	if acc.DisplayName != "" {
		return acc.DisplayName
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return user.FirstName
}
