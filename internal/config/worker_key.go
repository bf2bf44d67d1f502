package config

type WorkerKeyStruct struct {
	PersistActivityQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistActivityQueue: "persist_activity_queue",
}
