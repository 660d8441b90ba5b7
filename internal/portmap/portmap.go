// Package portmap maps well-known ports to service names. The table is built
// once at package initialisation and never written afterwards, so lookups
// need no locking.
package portmap

// Unknown is returned by Describe for ports without a table entry.
const Unknown = "unknown type"

var names = map[uint16]string{
	7:     "echo",
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	37:    "time",
	43:    "whois",
	53:    "dns",
	67:    "dhcps",
	68:    "dhcpc",
	69:    "tftp",
	79:    "finger",
	80:    "http",
	88:    "kerberos",
	102:   "iso-tsap",
	110:   "pop3",
	111:   "rpcbind",
	113:   "ident",
	119:   "nntp",
	123:   "ntp",
	135:   "msrpc",
	137:   "netbios-ns",
	138:   "netbios-dgm",
	139:   "netbios-ssn",
	143:   "imap",
	161:   "snmp",
	162:   "snmptrap",
	179:   "bgp",
	389:   "ldap",
	427:   "svrloc",
	443:   "https",
	445:   "microsoft-ds",
	465:   "smtps",
	500:   "isakmp",
	502:   "modbus",
	514:   "syslog",
	515:   "printer",
	520:   "rip",
	548:   "afp",
	554:   "rtsp",
	587:   "submission",
	623:   "ipmi",
	631:   "ipp",
	636:   "ldaps",
	873:   "rsync",
	902:   "vmware-auth",
	993:   "imaps",
	995:   "pop3s",
	1080:  "socks",
	1194:  "openvpn",
	1433:  "ms-sql-s",
	1521:  "oracle",
	1723:  "pptp",
	1883:  "mqtt",
	1900:  "upnp",
	2049:  "nfs",
	2181:  "zookeeper",
	2375:  "docker",
	2376:  "docker-tls",
	3000:  "ppp",
	3128:  "squid-http",
	3260:  "iscsi",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	3690:  "svn",
	4369:  "epmd",
	5000:  "upnp",
	5060:  "sip",
	5353:  "mdns",
	5432:  "postgresql",
	5672:  "amqp",
	5900:  "vnc",
	5985:  "wsman",
	5986:  "wsmans",
	6379:  "redis",
	6443:  "kubernetes",
	6667:  "irc",
	8000:  "http-alt",
	8008:  "http",
	8080:  "http-proxy",
	8081:  "blackice-icecap",
	8443:  "https-alt",
	8888:  "sun-answerbook",
	9000:  "cslistener",
	9090:  "zeus-admin",
	9092:  "kafka",
	9100:  "jetdirect",
	9200:  "elasticsearch",
	9418:  "git",
	10000: "snet-sensor-mgmt",
	11211: "memcache",
	27017: "mongod",
}

// Lookup returns the service name for port, if known.
func Lookup(port uint16) (string, bool) {
	name, ok := names[port]
	return name, ok
}

// Describe returns the service name for port or Unknown.
func Describe(port uint16) string {
	if name, ok := names[port]; ok {
		return name
	}
	return Unknown
}
