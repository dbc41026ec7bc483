package intent

import "strings"

// Fallback texts for codes missing from the table.
const (
	genericReason = "Операция не может быть обработана"
	genericAdvice = "Свяжитесь с вашим банком или воспользуйтесь другой картой"
)

// declineReasons maps merchant decline codes to the primary message shown to
// the payer.
var declineReasons = map[string]string{
	"3001": "Неверный номер заказа",
	"3002": "Некорректный идентификатор плательщика",
	"3003": "Неверная сумма",
	"3004": "Платеж просрочен",
	"3005": "Платеж не может быть принят",
	"3006": "Сервис недоступен",
	"3007": "Ошибка соединения",
	"3008": "Платеж не может быть принят",
	"5001": "Отказ эмитента проводить онлайн операцию",
	"5005": "Операция отклонена эмитентом",
	"5006": "Отказ сети проводить операцию или неправильный CVV код",
	"5012": "Карта не предназначена для онлайн платежей",
	"5013": "Слишком маленькая или слишком большая сумма операции",
	"5030": "Ошибка на стороне эквайера",
	"5031": "Неизвестный эмитент карты",
	"5034": "Отказ эмитента",
	"5041": "Карта потеряна",
	"5043": "Карта украдена",
	"5051": "Недостаточно средств на карте",
	"5054": "Карта просрочена или неверно указан срок действия",
	"5057": "Ограничение на карте",
	"5061": "Не удалось выполнить оплату: превышен лимит по карте",
	"5065": "Превышен лимит операций по карте",
	"5082": "Неверный CVV код",
	"5091": "Эмитент недоступен",
	"5092": "Эмитент недоступен",
	"5096": "Ошибка банка-эквайера или сети",
	"5204": "Операция не может быть обработана",
	"5206": "3-D Secure авторизация не пройдена",
	"5207": "3-D Secure авторизация недоступна",
	"5300": "Лимиты эквайера на проведение операций",
}

// declineAdvice maps decline codes to the suggested next action. An entry may
// be present but empty: 5051 has nothing to add beyond the reason.
var declineAdvice = map[string]string{
	"3001": "Платеж будет отклонен",
	"3002": "Платеж будет отклонен",
	"3003": "Обратитесь в поддержку сайта",
	"3004": "Обратитесь в поддержку сайта",
	"3005": "Платеж будет отклонен",
	"3006": "Платеж будет отклонен. Попробуйте позже",
	"3007": "Платеж будет отклонен. Попробуйте позже",
	"3008": "Платеж будет отклонен",
	"5001": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5005": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5006": "Проверьте правильность введенных данных карты или воспользуйтесь другой картой",
	"5012": "Воспользуйтесь другой картой или свяжитесь с банком, выпустившим карту",
	"5013": "Проверьте корректность суммы",
	"5030": "Повторите попытку позже",
	"5031": "Воспользуйтесь другой картой",
	"5034": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5041": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5043": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5051": "",
	"5054": "Проверьте правильность введенных данных карты или воспользуйтесь другой картой",
	"5057": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5061": "Превышение лимита оплаты по карте. Измените настройки лимита или оплатите другой картой",
	"5065": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5082": "Проверьте правильность введенных данных карты или воспользуйтесь другой картой",
	"5091": "Повторите попытку позже или воспользуйтесь другой картой",
	"5092": "Повторите попытку позже или воспользуйтесь другой картой",
	"5096": "Повторите попытку позже",
	"5204": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5206": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5207": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
	"5300": "Свяжитесь с вашим банком или воспользуйтесь другой картой",
}

// NormalizeCode strips the rail-specific "R" marker some gateways prepend to
// decline codes before table lookup.
func NormalizeCode(code string) string {
	return strings.TrimPrefix(code, "R")
}

// DescribeCode returns the payer-facing message for a decline code: the
// primary reason joined to the suggested action with "#". The separator is
// omitted when either half is empty. Unknown or empty codes collapse to the
// generic fallback pair.
func DescribeCode(code string) string {
	if code == "" {
		return genericReason
	}
	code = NormalizeCode(code)

	reason, knownReason := declineReasons[code]
	if !knownReason {
		reason = genericReason
	}
	advice, knownAdvice := declineAdvice[code]
	if !knownAdvice {
		advice = genericAdvice
	}
	if reason == "" || advice == "" {
		return reason + advice
	}
	return reason + "#" + advice
}
