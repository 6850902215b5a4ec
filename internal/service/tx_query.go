package service

import (
	"gorm.io/gorm"

	"attestation-core/internal/model"
)

// txRow is a transaction joined with the device and user address of its
// receiving address. Almost every lifecycle step needs all three.
type txRow struct {
	model.Transaction
	DeviceAddress string
	UserAddress   string
}

const txJoinSelect = "transactions.*, receiving_addresses.device_address, receiving_addresses.user_address"

func txJoin(db *gorm.DB) *gorm.DB {
	return db.Table("transactions").
		Select(txJoinSelect).
		Joins("JOIN receiving_addresses ON receiving_addresses.receiving_address = transactions.receiving_address")
}

func loadTx(db *gorm.DB, id int64) (*txRow, error) {
	var row txRow
	if err := txJoin(db).Where("transactions.id = ?", id).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func findTxWhere(db *gorm.DB, query string, args ...interface{}) (*txRow, error) {
	var row txRow
	if err := txJoin(db).Where(query, args...).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func listTxWhere(db *gorm.DB, query string, args ...interface{}) ([]txRow, error) {
	var rows []txRow
	if err := txJoin(db).Where(query, args...).Order("transactions.id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
