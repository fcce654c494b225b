package autoreply

import (
	"strings"

	"discussync/internal/model"
	"discussync/pkg/util"
)

// Reply is a generated response plus the rule that produced it.
type Reply struct {
	Text string
	Kind string
}

// Generator turns a customer message (plus recent channel history) into a
// reply. Implementations may be keyword tables or learned models; the
// processor does not care.
type Generator interface {
	Generate(msg model.Message, history []model.Message) Reply
}

// KeywordReplier is the canned-response generator: an ordered keyword scan
// over the markup-stripped body, first match wins.
type KeywordReplier struct{}

func NewKeywordReplier() *KeywordReplier {
	return &KeywordReplier{}
}

const (
	replyGreeting = "مرحباً بك! أنا مساعد خدمة عملاء ويكيب. كيف يمكنني مساعدتك؟ 😊"

	replyPrice = "شكراً على استفسارك! لتقديم عرض سعر دقيق، نحتاج بعض التفاصيل:\n\n1️⃣ صور أو فيديو للأغراض\n2️⃣ موقعك الحالي\n3️⃣ الوجهة (في حال النقل)\n\nهل يمكنك إرسال هذه المعلومات؟"

	replyStorage = "نوفر خدمات تخزين آمنة ومُكيفة لجميع أنواع الأثاث والأغراض! 📦\n\nنحتاج:\n• صور للأغراض\n• المدة المتوقعة للتخزين\n\nسيتواصل معك قسم المعاينة لتقديم عرض السعر المناسب."

	replyMoving = "نقدم خدمات نقل الأثاث والعفش بكل احترافية! 🚚\n\nيرجى إرسال:\n• صور أو فيديو للأغراض\n• موقع المنزل القديم\n• موقع المنزل الجديد\n\nوسنقدم لك عرض سعر شامل للنقل والعمالة والأدوات."

	replyLocation = "شكراً على مشاركة الموقع! 📍\n\nتم استلام الموقع وسيتم مراجعته من قبل فريق المعاينة.\n\nهل يوجد تفاصيل إضافية تود مشاركتها؟"

	replyPhotoSingle = "شكراً على إرسال الصورة! 📸\n\nتم استلامها وسيتم مراجعتها من قبل قسم المعاينة.\n\nسنتواصل معك قريباً بعرض السعر المناسب."

	replyPhotoMany = "شكراً على إرسال الصور! 📸\n\nتم استلامها وسيتم مراجعتها من قبل قسم المعاينة.\n\nسنتواصل معك قريباً بعرض السعر المناسب."

	replyDefault = "شكراً على رسالتك! 🙏\n\nسيتم التواصل معك من قبل أحد موظفي خدمة العملاء قريباً.\n\nإذا كان لديك أي استفسار عاجل، يمكنك إرسال التفاصيل وسنرد عليك في أقرب وقت."
)

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Generate scans keyword categories in priority order. History is accepted
// for interface compatibility; the keyword table does not need it.
func (r *KeywordReplier) Generate(msg model.Message, history []model.Message) Reply {
	text := strings.ToLower(util.StripMarkup(msg.Body))

	switch {
	case containsAny(text, "سلام", "مرحبا", "hello", "hi"):
		return Reply{Text: replyGreeting, Kind: "greeting"}
	case containsAny(text, "سعر", "كم", "price", "cost"):
		return Reply{Text: replyPrice, Kind: "price"}
	case containsAny(text, "تخزين", "storage"):
		return Reply{Text: replyStorage, Kind: "storage"}
	case containsAny(text, "نقل", "شحن", "moving"):
		return Reply{Text: replyMoving, Kind: "moving"}
	case containsAny(text, "location") || containsAny(msg.Body, "goo.gl", "maps"):
		return Reply{Text: replyLocation, Kind: "location"}
	case len(msg.AttachmentIDs) > 1:
		return Reply{Text: replyPhotoMany, Kind: "attachment"}
	case len(msg.AttachmentIDs) == 1:
		return Reply{Text: replyPhotoSingle, Kind: "attachment"}
	}

	return Reply{Text: replyDefault, Kind: "default"}
}
