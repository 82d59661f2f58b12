package log

const (
	// Connection
	FieldConnID = "conn_id"
	FieldRemote = "remote_addr"

	// Chat
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldListingID = "listing_id"

	// Actor
	FieldUserID   = "user_id"
	FieldUserName = "user_name"

	// Service
	FieldService = "service"
)
