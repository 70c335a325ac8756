package models

import (
	"time"

	"newsjunkies/gateway"
)

// Account - учетная запись для входа по email и паролю
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func AccountFromRow(r gateway.Row) (Account, error) {
	var (
		a   Account
		err error
	)
	if a.ID, err = requiredString(r, TableAccounts, "id"); err != nil {
		return Account{}, err
	}
	if a.Email, err = requiredString(r, TableAccounts, "email"); err != nil {
		return Account{}, err
	}
	if a.PasswordHash, err = requiredString(r, TableAccounts, "password_hash"); err != nil {
		return Account{}, err
	}
	if a.CreatedAt, err = rowTime(r, TableAccounts, "created_at"); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (a Account) Row() gateway.Row {
	return gateway.Row{
		"id":            a.ID,
		"email":         a.Email,
		"password_hash": a.PasswordHash,
		"created_at":    a.CreatedAt,
	}
}
