package services

import (
	"github.com/anjiri1684/tutorhub/models"
	"gorm.io/gorm"
)

// PayableScope keeps bookings that both the teacher and the student marked
// as attended, in either order. It is the single definition of "payable".
func PayableScope(db *gorm.DB) *gorm.DB {
	return db.
		Where("EXISTS (SELECT 1 FROM attendance_records ar WHERE ar.booking_id = bookings.id AND ar.party = ?)", models.PartyTeacher).
		Where("EXISTS (SELECT 1 FROM attendance_records ar WHERE ar.booking_id = bookings.id AND ar.party = ?)", models.PartyStudent)
}
