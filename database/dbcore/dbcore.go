package dbcore

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/jcoop32/applied/cmd/flags"
	"github.com/jcoop32/applied/database/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	instance *gorm.DB
	once     sync.Once
)

// InitDatabase prepares the backing store.
// For SQLite it returns true if the database file already existed, false if
// it had to be created. For MySQL it always returns true.
func InitDatabase() bool {
	if flags.DatabaseType == "" || flags.DatabaseType == "sqlite" {
		if _, err := os.Stat(flags.DatabaseFile); os.IsNotExist(err) {
			log.Printf("SQLite database file %q does not exist, creating...", flags.DatabaseFile)
			dbDir := filepath.Dir(flags.DatabaseFile)
			if dbDir != "" {
				if err := os.MkdirAll(dbDir, 0755); err != nil {
					log.Fatalf("Failed to create database directory %q: %v", dbDir, err)
				}
			}
			file, err := os.Create(flags.DatabaseFile)
			if err != nil {
				log.Fatalf("Failed to create SQLite database file %q: %v", flags.DatabaseFile, err)
			}
			if err := file.Close(); err != nil {
				log.Fatalf("Failed to close database file %q: %v", flags.DatabaseFile, err)
			}
			return false
		} else if err != nil {
			log.Fatalf("Failed to check database file %q: %v", flags.DatabaseFile, err)
		}
		return true
	} else if flags.DatabaseType == "mysql" {
		log.Printf("Using MySQL database: %s@%s:%s/%s",
			flags.DatabaseUser, flags.DatabaseHost, flags.DatabasePort, flags.DatabaseName)
		return true
	}
	log.Fatalf("Unsupported database type: %s", flags.DatabaseType)
	return false
}

func GetDBInstance() *gorm.DB {
	once.Do(func() {
		var err error
		var dialector gorm.Dialector
		if flags.DatabaseType == "mysql" {
			dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				flags.DatabaseUser, flags.DatabasePass, flags.DatabaseHost, flags.DatabasePort, flags.DatabaseName)
			dialector = mysql.Open(dsn)
		} else {
			// Busy timeout so concurrent dispatchers queue on the write
			// lock instead of surfacing SQLITE_BUSY.
			dialector = sqlite.Open(flags.DatabaseFile + "?_busy_timeout=5000")
		}
		instance, err = gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := instance.AutoMigrate(&models.Task{}); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	})
	return instance
}
