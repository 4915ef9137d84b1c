// Package store persists user credentials in a sqlite database.
package store

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// User is a registered account. Password holds the bcrypt hash; the
// plaintext is never stored.
type User struct {
	Username  string `gorm:"primaryKey;size:255"`
	Password  string `gorm:"not null"`
	CreatedAt time.Time
}

// Users is the credential store.
type Users struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*Users, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open user database")
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, errors.Wrap(err, "migrate user database")
	}
	return &Users{db: db}, nil
}

// Find returns the user with the given name, or nil if absent.
func (u *Users) Find(username string) (*User, error) {
	var user User
	err := u.db.First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	return &user, nil
}

// Add registers a new user with a bcrypt-hashed password.
func (u *Users) Add(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	err = u.db.Create(&User{Username: username, Password: string(hash)}).Error
	return errors.Wrap(err, "create user")
}

// Verify reports whether the username exists and the password matches.
func (u *Users) Verify(username, password string) (bool, error) {
	user, err := u.Find(username)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil, nil
}
