package database

import (
	"fmt"
	"sync/atomic"

	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

// InitTestDB 每次调用返回一个独立的内存数据库
func InitTestDB() *gorm.DB {
	name := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := open(name)
	if err != nil {
		panic("failed to connect test database: " + err.Error())
	}
	return db
}

func CleanTestDB(db *gorm.DB) {
	_ = Close(db)
}
