package ledger

// DataLicenseABI is the ABI of the deployed DataLicense contract.
const DataLicenseABI = `[
  {"type":"function","name":"registerUser","stateMutability":"nonpayable",
   "inputs":[{"internalType":"string","name":"_username","type":"string"}],"outputs":[]},
  {"type":"function","name":"grantAccess","stateMutability":"nonpayable",
   "inputs":[
     {"internalType":"address","name":"_company","type":"address"},
     {"internalType":"string","name":"_dataTypes","type":"string"},
     {"internalType":"uint256","name":"_monthlyPayment","type":"uint256"},
     {"internalType":"uint256","name":"_durationMonths","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"revokeAccess","stateMutability":"nonpayable",
   "inputs":[{"internalType":"address","name":"_company","type":"address"}],"outputs":[]},
  {"type":"function","name":"payUser","stateMutability":"payable",
   "inputs":[
     {"internalType":"address","name":"_user","type":"address"},
     {"internalType":"uint256","name":"_amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"isAccessActive","stateMutability":"view",
   "inputs":[
     {"internalType":"address","name":"_user","type":"address"},
     {"internalType":"address","name":"_company","type":"address"}],
   "outputs":[{"internalType":"bool","name":"","type":"bool"}]},
  {"type":"function","name":"getUserEarnings","stateMutability":"view",
   "inputs":[{"internalType":"address","name":"_user","type":"address"}],
   "outputs":[{"internalType":"uint256","name":"","type":"uint256"}]},
  {"type":"function","name":"getUserLicenses","stateMutability":"view",
   "inputs":[{"internalType":"address","name":"_user","type":"address"}],
   "outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}]},
  {"type":"function","name":"getLicenseDetails","stateMutability":"view",
   "inputs":[{"internalType":"uint256","name":"_licenseId","type":"uint256"}],
   "outputs":[{"internalType":"struct DataLicense.License","name":"","type":"tuple","components":[
     {"internalType":"address","name":"user","type":"address"},
     {"internalType":"address","name":"company","type":"address"},
     {"internalType":"string","name":"dataTypes","type":"string"},
     {"internalType":"uint256","name":"monthlyPayment","type":"uint256"},
     {"internalType":"uint256","name":"startTime","type":"uint256"},
     {"internalType":"uint256","name":"endTime","type":"uint256"},
     {"internalType":"bool","name":"isActive","type":"bool"}]}]},
  {"type":"event","name":"AccessGranted","anonymous":false,"inputs":[
     {"indexed":true,"internalType":"address","name":"user","type":"address"},
     {"indexed":true,"internalType":"address","name":"company","type":"address"},
     {"indexed":false,"internalType":"uint256","name":"licenseId","type":"uint256"}]},
  {"type":"event","name":"AccessRevoked","anonymous":false,"inputs":[
     {"indexed":true,"internalType":"address","name":"user","type":"address"},
     {"indexed":true,"internalType":"address","name":"company","type":"address"},
     {"indexed":false,"internalType":"uint256","name":"licenseId","type":"uint256"}]},
  {"type":"event","name":"PaymentMade","anonymous":false,"inputs":[
     {"indexed":true,"internalType":"address","name":"user","type":"address"},
     {"indexed":true,"internalType":"address","name":"company","type":"address"},
     {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}]}
]`
