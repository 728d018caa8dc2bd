package server

import "time"

type LeaseBody struct {
	Name    string     `json:"name" example:"shard-7" doc:"Name of the lease"`
	Owner   string     `json:"owner" example:"node-A" doc:"Current owner of the lease, empty if unowned"`
	Version string     `json:"version" example:"\"686897696a7c876b7e\"" doc:"Opaque version token assigned by the storage backend"`
	Time    *time.Time `json:"time,omitempty" doc:"Advisory timestamp stored with the lease"`
}

type GetLeaseInput struct {
	Name string `path:"name" maxLength:"1024" example:"shard-7" doc:"Name of the lease"`
}

type GetLeaseOutput struct {
	Status int
	Body   LeaseBody
}

type AcquireLeaseInput struct {
	Name string `path:"name" maxLength:"1024" example:"shard-7" doc:"Name of the lease"`
}

type AcquireLeaseOutput struct {
	Status int
	Body   LeaseBody
}

type UpdateLeaseInput struct {
	Name string `path:"name" maxLength:"1024" example:"shard-7" doc:"Name of the lease"`
	Body struct {
		Owner   string     `json:"owner" example:"node-A" doc:"Owner to record, empty to mark the lease unowned"`
		Version string     `json:"version" example:"\"686897696a7c876b7e\"" doc:"Version token the write is conditioned on"`
		Time    *time.Time `json:"time,omitempty" doc:"Advisory timestamp to store with the lease"`
	}
}

type UpdateLeaseOutputBody struct {
	Status  string     `json:"status" example:"WON" doc:"WON if the conditional write was accepted, LOST if another writer got there first"`
	Name    string     `json:"name" example:"shard-7" doc:"Name of the lease"`
	Owner   string     `json:"owner" example:"node-A" doc:"Recorded owner after the operation"`
	Version string     `json:"version" example:"\"686897696a7c876b7e\"" doc:"Version token of the returned lease"`
	Time    *time.Time `json:"time,omitempty" doc:"Advisory timestamp of the returned lease"`
}

type UpdateLeaseOutput struct {
	Status int
	Body   UpdateLeaseOutputBody
}

type RemoveLeaseInput struct {
	Name string `path:"name" maxLength:"1024" example:"shard-7" doc:"Name of the lease"`
}

type RemoveLeaseOutputBody struct {
	Status string `json:"status" example:"REMOVED" doc:"Status of the remove operation"`
}

type RemoveLeaseOutput struct {
	Status int
	Body   RemoveLeaseOutputBody
}
