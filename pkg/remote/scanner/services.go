package scanner

var serviceNames = map[int]string{
	21:   "FTP",
	22:   "SSH/SFTP",
	80:   "HTTP/WebDAV",
	139:  "NetBIOS/SMB",
	443:  "HTTPS/WebDAV",
	445:  "SMB/CIFS",
	2049: "NFS",
	5000: "Synology DSM",
	5005: "WebDAV (Synology)",
	5006: "WebDAVS (Synology)",
	8080: "HTTP-Alt/WebDAV",
	8443: "HTTPS-Alt",
	9090: "HTTP-Alt",
}

// ServiceName returns a best-effort service name for port, or "Unknown".
func ServiceName(port int) string {
	if name, ok := serviceNames[port]; ok {
		return name
	}
	return "Unknown"
}
