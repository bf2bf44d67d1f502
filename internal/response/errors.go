package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrUserAccessOnly  ErrCode = "USER_ACCESS_ONLY"
	ErrAdminAccessOnly ErrCode = "ADMIN_ACCESS_ONLY"
	ErrNotEnrolled     ErrCode = "NOT_ENROLLED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation      ErrCode = "VALIDATION_ERROR"
	ErrInvalidID       ErrCode = "INVALID_ID"
	ErrInvalidPayload  ErrCode = "INVALID_PAYLOAD"
	ErrFieldNotAllowed ErrCode = "FIELD_NOT_ALLOWED"
	ErrUnknownActivity ErrCode = "UNKNOWN_ACTIVITY"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrScheduleNotFound ErrCode = "SCHEDULE_NOT_FOUND"
	ErrSessionNotFound  ErrCode = "SESSION_NOT_FOUND"

	// ─── Test entry ────────────────────────────────────────────────────
	ErrEntryTokenEmpty   ErrCode = "ENTRY_TOKEN_EMPTY"
	ErrEntryTokenInvalid ErrCode = "ENTRY_TOKEN_INVALID"
	ErrTestNotStarted    ErrCode = "TEST_NOT_STARTED"
	ErrTestEnded         ErrCode = "TEST_ENDED"
	ErrScheduleNotOpen   ErrCode = "SCHEDULE_NOT_OPEN"
	ErrAlreadyFinished   ErrCode = "ALREADY_FINISHED"

	// ─── Live session ──────────────────────────────────────────────────
	ErrSessionClosed      ErrCode = "SESSION_CLOSED"
	ErrQuestionOutOfRange ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrStrikeDecrease     ErrCode = "STRIKE_DECREASE"
	ErrQuestionOrderFixed ErrCode = "QUESTION_ORDER_FIXED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrUserAccessOnly:
		return "Sumber daya ini terbatas untuk peserta."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."
	case ErrNotEnrolled:
		return "Anda tidak terdaftar pada ujian ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrFieldNotAllowed:
		return "Kolom sesi tersebut tidak boleh diubah."
	case ErrUnknownActivity:
		return "Jenis aktivitas tidak dikenal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrScheduleNotFound:
		return "Jadwal ujian tidak ditemukan."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."

	// ─── Test entry ────────────────────────────────────────────────────
	case ErrEntryTokenEmpty:
		return "Masukkan token"
	case ErrEntryTokenInvalid:
		return "Token tidak valid"
	case ErrTestNotStarted:
		return "Test belum dimulai"
	case ErrTestEnded:
		return "Test sudah berakhir"
	case ErrScheduleNotOpen:
		return "Ujian ini belum dipublikasikan."
	case ErrAlreadyFinished:
		return "Anda sudah menyelesaikan ujian ini."

	// ─── Live session ──────────────────────────────────────────────────
	case ErrSessionClosed:
		return "Sesi ujian sudah berakhir."
	case ErrQuestionOutOfRange:
		return "Nomor soal di luar jangkauan."
	case ErrStrikeDecrease:
		return "Jumlah pelanggaran tidak dapat dikurangi."
	case ErrQuestionOrderFixed:
		return "Urutan soal tidak dapat diubah."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
