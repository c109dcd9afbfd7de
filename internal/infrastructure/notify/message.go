package notify

import (
	"fmt"
	"strings"

	alertDomain "smartstock-alerts/internal/domain/alert"
)

// FormatSubject 產生通知標題。
func FormatSubject(a alertDomain.Alert) string {
	return fmt.Sprintf("SmartStock alert: %s %s %s", a.Symbol, describeKind(a.Kind), a.ConditionValue.String())
}

// FormatText 產生純文字通知內容，Telegram 與 email 共用。
func FormatText(a alertDomain.Alert, o alertDomain.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s triggered\n", FormatSubject(a))
	fmt.Fprintf(&b, "Condition: %s %s\n", a.Kind, a.ConditionValue.String())
	if o.Reason != "" {
		fmt.Fprintf(&b, "Observed: %s\n", o.Reason)
	}
	fmt.Fprintf(&b, "Time: %s\n", o.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Alert ID: %s\n", a.ID)
	b.WriteString("This alert is now inactive.")
	return b.String()
}

func describeKind(k alertDomain.Kind) string {
	switch k {
	case alertDomain.KindPriceAbove:
		return "price above"
	case alertDomain.KindPriceBelow:
		return "price below"
	case alertDomain.KindPctChangeAbove:
		return "change above %"
	case alertDomain.KindPctChangeBelow:
		return "change below %"
	case alertDomain.KindVolumeAbove:
		return "volume above"
	default:
		return strings.ToLower(string(k))
	}
}
