package netconf

// The Network Configuration Protocol (NETCONF)
// provides mechanisms to install, manipulate, and delete the
// configuration of network devices.  It uses an Extensible Markup
// Language (XML)-based data encoding for the configuration data as well
// as the protocol messages.  The NETCONF protocol operations are
// realized as remote procedure calls (RPCs).
