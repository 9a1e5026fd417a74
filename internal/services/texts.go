package services

import "math/rand/v2"

// User-facing texts. The bot speaks Uzbek.
const (
	TextWelcome = "👋 <b>Keling tanishib olaylik!</b>\n\n" +
		"🤖 Men sizning AI yordamchimman. Quyidagilarni qila olaman:\n" +
		"➤ Savollaringizga javob beraman\n" +
		"➤ Til va tarjima\n" +
		"➤ Texnik yordam\n" +
		"➤ Ijtimoiy va madaniy masalalar\n" +
		"➤ Hujjatlar va yozuvlar\n" +
		"➤ Har qanday mavzuda izoh, yechim yoki maslahat bera olaman\n" +
		"➤ Rasm ko'rinishida savol yuborsangiz — matnni o'qib, yechimini tushuntirib beraman\n\n" +
		"✍️ Savolingizni yozing men sizga javob berishga harakat qilaman."
	TextHelp = "ℹ️ <b>Yordam</b>\n\n" +
		"✍️ Savolingizni matn ko'rinishida yozing.\n" +
		"🖼 Rasm yuborsangiz, undagi matnni o'qib javob beraman.\n" +
		"📝 \"To'liq javob\" tugmasi batafsil tushuntirish beradi.\n" +
		"🧹 /clear — suhbat tarixini tozalash."
	TextAdminWelcome = "👋 <b>Admin panelga xush kelibsiz!</b>"
	TextCleared      = "🧹 Suhbat tarixi tozalandi."
	TextTooLong      = "📏 Matningiz juda uzun. 5000 belgidan kamroq yozing."
	TextTooFast      = "⏳ Juda tez yozyapsiz. Birozdan so'ng qayta urinib ko'ring."
	TextVoice        = "🎙 Ovozli xabarlar hozircha qo'llab-quvvatlanmaydi."
	TextInactive     = "👋 Salom! Sizni ko'rmaganimizga bir hafta bo'ldi. Yordam kerak bo'lsa, bemalol yozing!"

	TextAnalyzing      = "🧠 Savolingiz tahlil qilinmoqda..."
	TextAnalyzingPhoto = "🧠 Rasm tahlil qilinmoqda..."
	TextNoTextInPhoto  = "❗ Rasmda aniq matn topilmadi."
	TextPhotoFailed    = "❌ Rasmni tahlil qilishda xatolik."
	TextSendPhoto      = "Iltimos, rasmni yuboring."

	TextExpanding      = "⏳ To'liq javob tayyorlanmoqda..."
	TextExpansionGone  = "⚠️ Matn xotiradan o'chgan."
	TextExpandFailed   = "❌ To'liq javob olishda xatolik yuz berdi."
	TextReportSent     = "✅ Adminga yuborildi."
	TextReportFailed   = "❌ Xabarni yuborib bo'lmadi."
	TextInvalidRequest = "Noto'g'ri so'rov."

	TextRetrying     = "⏳ Qayta so‘ralmoqda... Iltimos kuting."
	TextNoReply      = "❌ Javob olinmadi."
	TextFetchFailed  = "❌ Javob olishda xato yuz berdi."
	TextUpstreamBusy = "❌ Xizmat vaqtincha band. Birozdan so'ng qayta urinib ko'ring."

	NoticeNoRecord   = "⚠️ Qayta yuborish uchun ma'lumot topilmadi."
	NoticeNotOwner   = "Faqat so'rovni yuborgan foydalanuvchi qayta so'rashi mumkin."
	NoticeExhausted  = "Maksimal urinish tugadi."
	NoticeCooldown   = "Iltimos, %d soniya kuting."
	NoticeInProgress = "Jarayon ketmoqda..."
)

// Prompt framing.
const (
	ConciseInstruction = "Qisqa, aniq va tushunarli javob bering. Agar savol salomlashish yoki " +
		"qisqa suhbat bo'lsa va batafsil javob kerak bo'lmasa, javob oxiriga [NO_BUTTON] qo'shing."
	ExpandPrefix = "Batafsil, kengaytirilgan va to'liq tushuntirib javob bering:\n\n"
)

// ErrorMessages are the friendly texts shown under a failed request.
var ErrorMessages = []string{
	"⚙️ Uzr — tizimda kichik nosozlik yuz berdi. Qayta urinib ko'ring yoki /start bilan qayta boshlang.",
	"🔧 Hozir biroz texnik ishlar bor. Savolingizni saqlab qo'ying — tez orada yordam beraman.",
	"🧠 Men hozir biroz bandman — lekin yaqin orada aniq va ijodiy javob beraman.",
}

func randomErrorMessage() string {
	return ErrorMessages[rand.IntN(len(ErrorMessages))]
}
