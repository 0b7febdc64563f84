package sdo

// ServerState is the protocol state of an [SDOServer]
type ServerState uint8

const (
	ServerStopped ServerState = iota
	ServerWaiting
	ServerAbortingTransfer
	ServerDownloadSegment
	ServerUploadSegment
	ServerBlockDownloadSub
	ServerBlockDownloadEnd
	ServerBlockUploadSub
	ServerBlockUploadEnd
)

var serverStateNames = [...]string{
	ServerStopped:          "Stopped",
	ServerWaiting:          "Waiting",
	ServerAbortingTransfer: "AbortingTransfer",
	ServerDownloadSegment:  "DownloadSegment",
	ServerUploadSegment:    "UploadSegment",
	ServerBlockDownloadSub: "BlockDownloadSub",
	ServerBlockDownloadEnd: "BlockDownloadEnd",
	ServerBlockUploadSub:   "BlockUploadSub",
	ServerBlockUploadEnd:   "BlockUploadEnd",
}

func (s ServerState) String() string {
	if int(s) < len(serverStateNames) {
		return serverStateNames[s]
	}
	return "Unknown"
}

// InTransfer reports whether a transfer is open, i.e. a timer is running
func (s ServerState) InTransfer() bool {
	return s > ServerAbortingTransfer
}

// ClientState is the protocol state of an [SDOClient]
type ClientState uint8

const (
	ClientStopped ClientState = iota
	ClientWaiting
	ClientAbortingTransfer
	ClientDownloadInitiate
	ClientDownloadSegment
	ClientUploadInitiate
	ClientUploadSegment
	ClientBlockDownloadInitiate
	ClientBlockDownloadSub
	ClientBlockDownloadEnd
	ClientBlockUploadInitiate
	ClientBlockUploadSub
	ClientBlockUploadEnd
)

var clientStateNames = [...]string{
	ClientStopped:               "Stopped",
	ClientWaiting:               "Waiting",
	ClientAbortingTransfer:      "AbortingTransfer",
	ClientDownloadInitiate:      "DownloadInitiate",
	ClientDownloadSegment:       "DownloadSegment",
	ClientUploadInitiate:        "UploadInitiate",
	ClientUploadSegment:         "UploadSegment",
	ClientBlockDownloadInitiate: "BlockDownloadInitiate",
	ClientBlockDownloadSub:      "BlockDownloadSub",
	ClientBlockDownloadEnd:      "BlockDownloadEnd",
	ClientBlockUploadInitiate:   "BlockUploadInitiate",
	ClientBlockUploadSub:        "BlockUploadSub",
	ClientBlockUploadEnd:        "BlockUploadEnd",
}

func (s ClientState) String() string {
	if int(s) < len(clientStateNames) {
		return clientStateNames[s]
	}
	return "Unknown"
}

func (s ClientState) InTransfer() bool {
	return s > ClientAbortingTransfer
}
