package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestUser_Fields(t *testing.T) {
	typ := reflect.TypeOf(User{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Name", "not null")
	assertGormTag(t, typ, "APIToken", "uniqueIndex")
	assertGormTag(t, typ, "IsAdmin", "default:false")
	assertGormTag(t, typ, "Chats", "foreignKey:UserID")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Chats", "[]models.Chat")
}

func TestChat_Fields(t *testing.T) {
	typ := reflect.TypeOf(Chat{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "UserID", "index")
	assertGormTag(t, typ, "Title", "not null")
	assertGormTag(t, typ, "LastMessage", "type:text")
	assertGormTag(t, typ, "LastActivity", "index")
	assertGormTag(t, typ, "Messages", "foreignKey:ChatID")

	assertFieldType(t, typ, "ID", "string")
	assertFieldType(t, typ, "LastActivity", "time.Time")
	assertFieldType(t, typ, "Messages", "[]models.ChatMessage")
}

func TestChatMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(ChatMessage{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	// Client ids are unique per chat so re-sent refinements upsert.
	assertGormTag(t, typ, "ChatID", "uniqueIndex:idx_chat_client")
	assertGormTag(t, typ, "ClientID", "uniqueIndex:idx_chat_client")
	assertGormTag(t, typ, "Content", "type:mediumtext")
	assertGormTag(t, typ, "Source", "not null")
	assertGormTag(t, typ, "Pictures", "foreignKey:MessageID")
	assertGormTag(t, typ, "Documents", "foreignKey:MessageID")

	assertFieldType(t, typ, "Source", "int")
	assertFieldType(t, typ, "Kind", "int")
}

func TestAttachment_Fields(t *testing.T) {
	for _, typ := range []reflect.Type{reflect.TypeOf(Picture{}), reflect.TypeOf(Document{})} {
		assertGormTag(t, typ, "MessageID", "index")
		assertGormTag(t, typ, "FilePath", "size:512")
		assertGormTag(t, typ, "Description", "type:text")
		assertFieldType(t, typ, "MessageID", "uint")
	}
}

func TestGuestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(GuestMessage{})

	assertGormTag(t, typ, "TempID", "index")
	assertGormTag(t, typ, "CreatedAt", "index")
	assertFieldType(t, typ, "TempID", "string")
}

func TestSourceConstants(t *testing.T) {
	if SourceUser != 0 || SourceAgent != 1 {
		t.Errorf("SourceUser=%d SourceAgent=%d, want 0 and 1", SourceUser, SourceAgent)
	}
}
